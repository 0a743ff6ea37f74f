package transform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amese/labsync/internal/metadata"
	"amese/labsync/internal/model"
	"amese/labsync/pkg/errorutil"
	"amese/labsync/pkg/logger"
)

// fakeResolver resolves from a static table; unknown codes fail like the
// real catalog does.
type fakeResolver struct {
	specimens map[string]string
	hints     map[string]string // code -> hint received, for assertions
}

func (f *fakeResolver) Resolve(ctx context.Context, code, hint string) (string, error) {
	if f.hints == nil {
		f.hints = map[string]string{}
	}
	f.hints[code] = hint
	if id, ok := f.specimens[code]; ok {
		return id, nil
	}
	return "", errorutil.NonRetriablef("supportSpecimenId missing for supportTestId=%q", code)
}

type fakeMetadata struct {
	infos map[string]metadata.Info
}

func (f *fakeMetadata) Lookup(ctx context.Context, code string) (metadata.Info, bool) {
	info, ok := f.infos[code]
	return info, ok
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 15, 30, 0, 0, time.UTC)
}

func sampleEvent() *model.Event {
	patientID := int64(77)
	return &model.Event{
		Order: model.OrderHeader{
			OrderID:   1234,
			PatientID: &patientID,
			EntryDate: "2026-02-28T00:00:00",
			EntryTime: "08:45",
		},
		Patient: model.Patient{
			Name:      "Maria Souza",
			Document:  "123.456.789-00",
			BirthDate: "1980-05-20T00:00:00",
			Sex:       "FEMININO",
			PatientID: &patientID,
		},
		Items: []model.Item{
			{
				ItemID:          9001,
				EntryDate:       "2026-02-28T08:50:12",
				Description:     "Hemograma completo",
				TestCode:        "HB",
				Source:          "LIS",
				ExamDescription: "Hemograma",
			},
		},
	}
}

func newTestTransformer(res CatalogResolver, meta MetadataSource, opts ...Option) *Transformer {
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	return New(res, meta, nil, Defaults{}, nil, logger.Nop(), opts...)
}

func TestTransformBuildsFullPayload(t *testing.T) {
	res := &fakeResolver{specimens: map[string]string{"HB": "spec-blood"}}
	tf := newTestTransformer(res, nil)

	payload, err := tf.Transform(context.Background(), sampleEvent())
	require.NoError(t, err)

	b := payload.Batch
	assert.Equal(t, "sol-1234", b.ExternalID)
	assert.Equal(t, "2026-02-28", b.Date)
	assert.Equal(t, "08:45:00", b.Time)
	assert.Equal(t, "order-1234", b.Order.ExternalID)
	assert.Nil(t, b.Order.Physician)

	p := b.Order.Patient
	assert.Equal(t, "pat-77", p.ExternalID)
	assert.Equal(t, "Maria Souza", p.Name)
	assert.Equal(t, "1980-05-20", p.BirthDate)
	assert.Equal(t, "F", p.Gender)

	require.Len(t, b.Order.Tests, 1)
	test := b.Order.Tests[0]
	assert.Equal(t, "item-9001", test.ExternalID)
	assert.Equal(t, "2026-02-28", test.CollectionDate)
	assert.Equal(t, "08:50:12", test.CollectionTime)
	assert.Equal(t, "HB", test.SupportTestID)
	assert.Equal(t, "spec-blood", test.SupportSpecimenID)

	annotations := map[string]string{}
	for _, kv := range test.AdditionalInformations {
		annotations[kv.Key] = kv.Value
	}
	assert.Equal(t, "LIS", annotations["origem"])
	assert.Equal(t, "Hemograma completo", annotations["descricao"])
	assert.Equal(t, "Hemograma", annotations["observacao_codigo_exame"])
}

func TestTransformGenderHandling(t *testing.T) {
	cases := []struct {
		name       string
		sex        string
		defaultSex string
		want       string
		wantErr    bool
	}{
		{name: "written out female", sex: "feminino", want: "F"},
		{name: "written out male", sex: "Masculino", want: "M"},
		{name: "single letter passes", sex: "m", want: "M"},
		{name: "blank uses default", sex: "", defaultSex: "M", want: "M"},
		{name: "unknown uses default", sex: "X", defaultSex: "F", want: "F"},
		{name: "blank without default fails", sex: "", wantErr: true},
		{name: "unknown without default fails", sex: "indefinido", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := &fakeResolver{specimens: map[string]string{"HB": "spec-blood"}}
			tf := New(res, nil, nil, Defaults{Gender: tc.defaultSex}, nil, logger.Nop(), WithClock(fixedClock))

			ev := sampleEvent()
			ev.Patient.Sex = tc.sex

			payload, err := tf.Transform(context.Background(), ev)
			if tc.wantErr {
				require.Error(t, err)
				assert.False(t, errorutil.IsRetryable(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, payload.Batch.Order.Patient.Gender)
		})
	}
}

func TestTransformBirthDateFallsBackToDefault(t *testing.T) {
	res := &fakeResolver{specimens: map[string]string{"HB": "spec-blood"}}

	ev := sampleEvent()
	ev.Patient.BirthDate = ""

	_, err := newTestTransformer(res, nil).Transform(context.Background(), ev)
	require.Error(t, err)
	assert.False(t, errorutil.IsRetryable(err))

	tf := New(res, nil, nil, Defaults{BirthDate: "1970-01-01"}, nil, logger.Nop(), WithClock(fixedClock))
	payload, err := tf.Transform(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "1970-01-01", payload.Batch.Order.Patient.BirthDate)
}

func TestTransformPatientIdentityFallbacks(t *testing.T) {
	res := &fakeResolver{specimens: map[string]string{"HB": "spec-blood"}}
	tf := newTestTransformer(res, nil)

	ev := sampleEvent()
	ev.Patient.PatientID = nil
	payload, err := tf.Transform(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "cpf-12345678900", payload.Batch.Order.Patient.ExternalID)

	ev.Patient.Document = ""
	ev.Patient.Name = "  "
	payload, err = tf.Transform(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload.Batch.Order.Patient.ExternalID, "pat-"))
	assert.Equal(t, "NOME_NAO_INFORMADO", payload.Batch.Order.Patient.Name)
}

func TestTransformMissingOrderIDGetsFreshIdentity(t *testing.T) {
	res := &fakeResolver{specimens: map[string]string{"HB": "spec-blood"}}
	tf := newTestTransformer(res, nil)

	ev := sampleEvent()
	ev.Order.OrderID = 0

	payload, err := tf.Transform(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload.Batch.ExternalID, "sol-"))
	assert.NotEqual(t, "sol-0", payload.Batch.ExternalID)
	assert.True(t, strings.HasPrefix(payload.Batch.Order.ExternalID, "order-"))
}

func TestTransformDateTimeFallbacks(t *testing.T) {
	res := &fakeResolver{specimens: map[string]string{"HB": "spec-blood"}}
	tf := newTestTransformer(res, nil)

	// No header timestamp: borrow the first parseable item timestamp.
	ev := sampleEvent()
	ev.Order.EntryDate = ""
	payload, err := tf.Transform(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-28", payload.Batch.Date)
	assert.Equal(t, "08:50:12", payload.Batch.Time)

	// Nothing parseable anywhere: current time in UTC-3.
	ev.Items[0].EntryDate = "not-a-date"
	payload, err = tf.Transform(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", payload.Batch.Date)
	assert.Equal(t, "12:30:00", payload.Batch.Time)
	// The unusable item timestamp falls back to the batch stamp too.
	assert.Equal(t, payload.Batch.Date, payload.Batch.Order.Tests[0].CollectionDate)
}

func TestTransformUnknownTestCodeFails(t *testing.T) {
	res := &fakeResolver{specimens: map[string]string{}}
	tf := newTestTransformer(res, nil)

	_, err := tf.Transform(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.False(t, errorutil.IsRetryable(err))
	assert.Contains(t, err.Error(), "supportSpecimenId missing")
}

func TestTransformEmptyTestCodeUsesPlaceholder(t *testing.T) {
	res := &fakeResolver{specimens: map[string]string{}}
	tf := newTestTransformer(res, nil)

	ev := sampleEvent()
	ev.Items[0].TestCode = "  "

	_, err := tf.Transform(context.Background(), ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), placeholderTestCode)
}

func TestTransformAppliesTestMapOverride(t *testing.T) {
	res := &fakeResolver{specimens: map[string]string{"HEMO-01": "spec-blood"}}
	overrides := map[string]string{"HB": "HEMO-01"}
	tf := New(res, nil, overrides, Defaults{}, nil, logger.Nop(), WithClock(fixedClock))

	payload, err := tf.Transform(context.Background(), sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, "HEMO-01", payload.Batch.Order.Tests[0].SupportTestID)
}

func TestTransformMetadataEnrichesAnnotationsAndHint(t *testing.T) {
	res := &fakeResolver{specimens: map[string]string{"HB": "spec-blood"}}
	meta := &fakeMetadata{infos: map[string]metadata.Info{
		"HB": {TestName: "Hemoglobin", Material: "Sangue total"},
	}}
	tf := newTestTransformer(res, meta)

	payload, err := tf.Transform(context.Background(), sampleEvent())
	require.NoError(t, err)

	assert.Equal(t, "Sangue total", res.hints["HB"])

	annotations := map[string]string{}
	for _, kv := range payload.Batch.Order.Tests[0].AdditionalInformations {
		annotations[kv.Key] = kv.Value
	}
	assert.Equal(t, "Hemoglobin", annotations["nome_exame"])
	assert.Equal(t, "Sangue total", annotations["material"])
}

func TestTransformSpecimenOverrideSkipsCatalog(t *testing.T) {
	tf := New(nil, nil, nil, Defaults{}, nil, logger.Nop(),
		WithClock(fixedClock), WithSpecimenOverride("DRY-RUN"))

	payload, err := tf.Transform(context.Background(), sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, "DRY-RUN", payload.Batch.Order.Tests[0].SupportSpecimenID)
}

func TestTransformIncludesConfiguredPhysician(t *testing.T) {
	res := &fakeResolver{specimens: map[string]string{"HB": "spec-blood"}}
	phys := PhysicianFromConfig("Dr. Silva", "CRM", "12345", "SP")
	require.NotNil(t, phys)
	tf := New(res, nil, nil, Defaults{}, phys, logger.Nop(), WithClock(fixedClock))

	payload, err := tf.Transform(context.Background(), sampleEvent())
	require.NoError(t, err)

	require.NotNil(t, payload.Batch.Order.Physician)
	assert.Equal(t, "Dr. Silva", payload.Batch.Order.Physician.Name)
	assert.Equal(t, "CRM", payload.Batch.Order.Physician.CouncilAbbreviation)
	assert.Equal(t, "12345", payload.Batch.Order.Physician.CouncilNumber)
	assert.Equal(t, "SP", payload.Batch.Order.Physician.CouncilUf)
}

func TestPhysicianFromConfigRequiresAllFields(t *testing.T) {
	assert.Nil(t, PhysicianFromConfig("", "CRM", "12345", "SP"))
	assert.Nil(t, PhysicianFromConfig("Dr. Silva", "CRM", "", "SP"))
	assert.NotNil(t, PhysicianFromConfig("Dr. Silva", "CRM", "12345", "SP"))
}

func TestLoadTestMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "map.json")
	require.NoError(t, os.WriteFile(path, []byte(`{" hb ": "HEMO-01", "GLI": "GLU-02"}`), 0o644))

	overrides, err := LoadTestMap(path)
	require.NoError(t, err)
	assert.Equal(t, "HEMO-01", overrides["HB"])
	assert.Equal(t, "GLU-02", overrides["GLI"])

	empty, err := LoadTestMap("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = LoadTestMap(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}
