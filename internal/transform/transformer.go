// Package transform converts one settled order aggregate into the
// platform's batch/order wire payload.
package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"amese/labsync/internal/metadata"
	"amese/labsync/internal/model"
	"amese/labsync/pkg/errorutil"
	"amese/labsync/pkg/logger"
)

// Fallback patient name when the snapshot has none.
const unnamedPatient = "NOME_NAO_INFORMADO"

// CatalogResolver resolves a test code to a specimen id.
type CatalogResolver interface {
	Resolve(ctx context.Context, code, hint string) (string, error)
}

// MetadataSource supplies the optional display name / material description
// per test code. May be nil.
type MetadataSource interface {
	Lookup(ctx context.Context, code string) (metadata.Info, bool)
}

// Defaults are the configured fallbacks for mandatory patient fields.
type Defaults struct {
	Gender    string // "M", "F" or ""
	BirthDate string // YYYY-MM-DD or ""
}

// Transformer builds wire payloads. All-or-nothing: one bad item fails the
// whole aggregate.
type Transformer struct {
	catalog   CatalogResolver
	metadata  MetadataSource
	overrides map[string]string
	defaults  Defaults
	physician *Physician

	// specimenOverride bypasses catalog resolution; set in dry-run mode so
	// payloads can be generated without platform credentials.
	specimenOverride string

	now    func() time.Time
	logger logger.Logger
}

// Option tweaks a Transformer.
type Option func(*Transformer)

// WithClock replaces the wall clock. Test hook.
func WithClock(now func() time.Time) Option {
	return func(t *Transformer) { t.now = now }
}

// WithSpecimenOverride skips catalog resolution and stamps every test with
// the given specimen id.
func WithSpecimenOverride(specimenID string) Option {
	return func(t *Transformer) { t.specimenOverride = specimenID }
}

// New creates a Transformer. physician may be nil; m may be nil.
func New(
	catalog CatalogResolver,
	m MetadataSource,
	overrides map[string]string,
	defaults Defaults,
	physician *Physician,
	log logger.Logger,
	opts ...Option,
) *Transformer {
	t := &Transformer{
		catalog:   catalog,
		metadata:  m,
		overrides: overrides,
		defaults:  defaults,
		physician: physician,
		now:       time.Now,
		logger:    log,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// LoadTestMap reads the local-code → platform-code override table from a
// JSON file. Keys are upper-cased. An empty path yields an empty map.
func LoadTestMap(path string) (map[string]string, error) {
	overrides := make(map[string]string)
	if path == "" {
		return overrides, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test map %s: %w", path, err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse test map %s: %w", path, err)
	}

	for k, v := range raw {
		overrides[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return overrides, nil
}

// Transform converts one order aggregate into a wire payload.
//
// Errors are classified: missing mandatory data and unresolved test codes
// are non-retryable (failure-sink material); a catalog load failure is
// retryable and must abort the cycle instead.
func (t *Transformer) Transform(ctx context.Context, ev *model.Event) (*Payload, error) {
	orderID := ev.Order.OrderID

	batchID := fmt.Sprintf("sol-%d", orderID)
	orderExtID := fmt.Sprintf("order-%d", orderID)
	if orderID == 0 {
		// No stable id: a fresh token makes every retry a new batch, which the
		// delivery side then also cannot deduplicate by key.
		batchID = "sol-" + uuid.NewString()
		orderExtID = "order-" + uuid.NewString()
	}

	batchDate, batchTime := chooseDateTime(ev.Order, ev.Items, t.now)

	patient, err := t.buildPatient(ev.Patient)
	if err != nil {
		return nil, err
	}

	tests := make([]Test, 0, len(ev.Items))
	for _, item := range ev.Items {
		test, err := t.buildTest(ctx, item, batchDate, batchTime)
		if err != nil {
			return nil, err
		}
		tests = append(tests, test)
	}

	return &Payload{
		Batch: Batch{
			ExternalID: batchID,
			Date:       batchDate,
			Time:       batchTime,
			Order: Order{
				ExternalID: orderExtID,
				Date:       batchDate,
				Time:       batchTime,
				Patient:    patient,
				Physician:  t.physician,
				Tests:      tests,
			},
		},
	}, nil
}

// buildPatient derives the identity block. Birth date and gender are
// mandatory downstream; everything else degrades gracefully.
func (t *Transformer) buildPatient(p model.Patient) (Patient, error) {
	var externalID string
	switch {
	case p.PatientID != nil:
		externalID = fmt.Sprintf("pat-%d", *p.PatientID)
	case onlyDigits(p.Document) != "":
		externalID = "cpf-" + onlyDigits(p.Document)
	default:
		externalID = "pat-" + uuid.NewString()
	}

	birthDate := ""
	if d, _, ok := splitTimestamp(p.BirthDate); ok {
		birthDate = d
	}
	if birthDate == "" {
		birthDate = t.defaults.BirthDate
	}
	if birthDate == "" {
		return Patient{}, errorutil.NonRetriable(
			"birthDate is mandatory and missing; set a default birth date in the config")
	}

	gender := normalizeGender(p.Sex, t.defaults.Gender)
	if gender == "" {
		return Patient{}, errorutil.NonRetriable(
			"gender is mandatory and missing or invalid; set patient sex or a default gender (\"M\"/\"F\") in the config")
	}

	name := p.Name
	if strings.TrimSpace(name) == "" {
		name = unnamedPatient
	}

	return Patient{
		ExternalID: externalID,
		Name:       name,
		BirthDate:  birthDate,
		Gender:     gender,
	}, nil
}

// buildTest derives one wire test from one line item.
func (t *Transformer) buildTest(ctx context.Context, item model.Item, batchDate, batchTime string) (Test, error) {
	externalID := fmt.Sprintf("item-%d", item.ItemID)
	if item.ItemID == 0 {
		externalID = "item-" + uuid.NewString()
	}

	collectionDate, collectionTime, ok := splitTimestamp(item.EntryDate)
	if !ok {
		collectionDate, collectionTime = batchDate, batchTime
	}

	code := mapTestCode(t.overrides, item.TestCode)

	var info metadata.Info
	var haveInfo bool
	if t.metadata != nil {
		info, haveInfo = t.metadata.Lookup(ctx, code)
	}

	specimenID := t.specimenOverride
	if specimenID == "" {
		var err error
		specimenID, err = t.catalog.Resolve(ctx, code, info.Material)
		if err != nil {
			return Test{}, err
		}
	}

	source := item.Source
	if source == "" {
		source = "API"
	}
	annotations := []KeyValue{
		{Key: "origem", Value: source},
		{Key: "descricao", Value: item.Description},
		{Key: "observacao_codigo_exame", Value: item.ExamDescription},
	}
	if haveInfo {
		if info.TestName != "" {
			annotations = append(annotations, KeyValue{Key: "nome_exame", Value: info.TestName})
		}
		if info.Material != "" {
			annotations = append(annotations, KeyValue{Key: "material", Value: info.Material})
		}
	}

	return Test{
		ExternalID:             externalID,
		CollectionDate:         collectionDate,
		CollectionTime:         collectionTime,
		SupportTestID:          code,
		SupportSpecimenID:      specimenID,
		AdditionalInformations: annotations,
	}, nil
}

// PhysicianFromConfig builds the optional physician block; nil unless all
// four fields are present.
func PhysicianFromConfig(name, council, number, uf string) *Physician {
	if name == "" || council == "" || number == "" || uf == "" {
		return nil
	}
	return &Physician{
		ExternalID:          number,
		Name:                name,
		CouncilAbbreviation: council,
		CouncilNumber:       number,
		CouncilUf:           uf,
	}
}
