// Package catalog caches the platform's test catalog and resolves a test
// code to the specimen the platform expects for it.
package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"amese/labsync/pkg/errorutil"
	"amese/labsync/pkg/logger"
)

// Variant is one specimen option for a test code. A code with more than one
// variant (e.g. the same analyte from blood or urine) needs disambiguation.
type Variant struct {
	Name         string
	SpecimenID   string
	SpecimenName string
}

// Index is the process-lifetime test catalog cache. Loaded in full on first
// use; catalog changes on the platform side require a restart.
type Index struct {
	baseURL string
	token   string
	client  *http.Client
	logger  logger.Logger

	mu     sync.Mutex
	loaded bool
	byCode map[string][]Variant
}

// NewIndex creates an unloaded Index. client is shared with the delivery
// engine for connection reuse.
func NewIndex(baseURL, token string, client *http.Client, log logger.Logger) *Index {
	return &Index{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		logger:  log,
		byCode:  make(map[string][]Variant),
	}
}

// catalogResponse matches GET /tests.
type catalogResponse struct {
	Tests []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Specimen struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"specimen"`
	} `json:"tests"`
}

// EnsureLoaded fetches and indexes the full catalog once. Load failures are
// retryable: the catalog being unreachable says nothing about the orders.
func (ix *Index) EnsureLoaded(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.ensureLoadedLocked(ctx)
}

func (ix *Index) ensureLoadedLocked(ctx context.Context) error {
	if ix.loaded {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ix.baseURL+"/tests", nil)
	if err != nil {
		return errorutil.Retriablef("catalog request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+ix.token)

	resp, err := ix.client.Do(req)
	if err != nil {
		return errorutil.Retriablef("catalog fetch failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorutil.Retriablef("catalog read failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return errorutil.Retriablef("catalog fetch failed (%d): %s", resp.StatusCode, string(body))
	}

	var data catalogResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return errorutil.Retriablef("catalog decode failed: %v", err)
	}

	for _, t := range data.Tests {
		code := strings.TrimSpace(t.ID)
		if code == "" {
			continue
		}
		ix.byCode[code] = append(ix.byCode[code], Variant{
			Name:         t.Name,
			SpecimenID:   t.Specimen.ID,
			SpecimenName: t.Specimen.Name,
		})
	}

	ix.loaded = true
	ix.logger.Infof(ctx, "[Catalog] loaded %d test codes", len(ix.byCode))
	return nil
}

// Size returns the number of indexed test codes.
func (ix *Index) Size() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.byCode)
}

// Resolve maps a test code to a specimen id.
//
// One variant wins unconditionally. With several variants and a material
// hint, the first variant whose specimen name appears case-insensitively in
// the hint wins; without a match the first catalog variant is used and the
// ambiguity is logged. An unknown code is a non-retryable error: the caller
// must treat it as a transformation failure.
func (ix *Index) Resolve(ctx context.Context, code, hint string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", errorutil.NonRetriable("empty test code")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.ensureLoadedLocked(ctx); err != nil {
		return "", err
	}

	variants, ok := ix.byCode[code]
	if !ok || len(variants) == 0 {
		return "", errorutil.NonRetriablef(
			"supportSpecimenId missing for supportTestId=%q: not in catalog; fix the test map or the platform catalog", code)
	}

	chosen := variants[0]
	if len(variants) > 1 {
		matched := false
		if hint != "" {
			lowerHint := strings.ToLower(hint)
			for _, v := range variants {
				if v.SpecimenName != "" && strings.Contains(lowerHint, strings.ToLower(v.SpecimenName)) {
					chosen = v
					matched = true
					break
				}
			}
		}
		if !matched {
			ix.logger.Warnf(ctx, "[Catalog] ambiguous test code %s: %d variants, hint=%q, using specimen %s (%s)",
				code, len(variants), hint, chosen.SpecimenID, chosen.SpecimenName)
		}
	}

	if chosen.SpecimenID == "" {
		return "", errorutil.NonRetriablef("supportSpecimenId missing for supportTestId=%q: catalog entry has no specimen", code)
	}

	return chosen.SpecimenID, nil
}

// seed injects catalog entries directly. Test hook.
func (ix *Index) seed(entries map[string][]Variant) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for code, vs := range entries {
		ix.byCode[code] = vs
	}
	ix.loaded = true
}
