// Package metadata reads the supplementary test-metadata spreadsheet:
// display name and material description keyed by platform test code.
package metadata

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"amese/labsync/pkg/logger"
)

// Expected header cells of the metadata range.
const (
	colTestID   = "TEST_ID"
	colTestName = "TEST_NAME"
	colMaterial = "SUPPORT_LAB_DESCMAT"
)

// Info is the metadata attached to one test code.
type Info struct {
	TestName string
	Material string
}

// SheetCache loads the configured range once, in full, on first lookup.
type SheetCache struct {
	svc       *sheets.Service
	sheetID   string
	readRange string
	logger    logger.Logger

	mu     sync.Mutex
	loaded bool
	byCode map[string]Info
}

// NewSheetCache builds the Sheets service eagerly; the values themselves are
// fetched lazily on first Lookup.
func NewSheetCache(ctx context.Context, sheetID, readRange, apiKey string, log logger.Logger) (*SheetCache, error) {
	svc, err := sheets.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &SheetCache{
		svc:       svc,
		sheetID:   sheetID,
		readRange: readRange,
		logger:    log,
		byCode:    make(map[string]Info),
	}, nil
}

// EnsureLoaded fetches and indexes the metadata range once.
func (c *SheetCache) EnsureLoaded(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLoadedLocked(ctx)
}

func (c *SheetCache) ensureLoadedLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}

	resp, err := c.svc.Spreadsheets.Values.Get(c.sheetID, c.readRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read metadata sheet: %w", err)
	}

	byCode, err := parseRows(resp.Values)
	if err != nil {
		return err
	}
	if len(byCode) == 0 {
		c.logger.Warnf(ctx, "[Metadata] sheet %s range %s is empty", c.sheetID, c.readRange)
	}

	c.byCode = byCode
	c.loaded = true
	c.logger.Infof(ctx, "[Metadata] loaded %d test entries", len(c.byCode))
	return nil
}

// parseRows indexes the sheet values. The first row is the header; columns
// are discovered by name so their order in the sheet does not matter. Rows
// too short to reach all columns are skipped.
func parseRows(values [][]interface{}) (map[string]Info, error) {
	byCode := make(map[string]Info)
	if len(values) == 0 {
		return byCode, nil
	}

	idxID, idxName, idxMaterial := -1, -1, -1
	for i, cell := range values[0] {
		switch strings.TrimSpace(fmt.Sprint(cell)) {
		case colTestID:
			idxID = i
		case colTestName:
			idxName = i
		case colMaterial:
			idxMaterial = i
		}
	}
	if idxID < 0 || idxName < 0 || idxMaterial < 0 {
		return nil, fmt.Errorf("metadata sheet header must contain %s, %s and %s",
			colTestID, colTestName, colMaterial)
	}

	max := idxID
	if idxName > max {
		max = idxName
	}
	if idxMaterial > max {
		max = idxMaterial
	}

	for _, row := range values[1:] {
		if len(row) <= max {
			continue
		}
		code := strings.TrimSpace(fmt.Sprint(row[idxID]))
		if code == "" {
			continue
		}
		byCode[strings.ToUpper(code)] = Info{
			TestName: strings.TrimSpace(fmt.Sprint(row[idxName])),
			Material: strings.TrimSpace(fmt.Sprint(row[idxMaterial])),
		}
	}

	return byCode, nil
}

// Size returns the number of indexed entries.
func (c *SheetCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byCode)
}

// Lookup returns the metadata for a test code, loading the sheet on first
// use. A load failure only disables the lookup for this call; the sheet is
// supplementary and must not fail a transformation.
func (c *SheetCache) Lookup(ctx context.Context, code string) (Info, bool) {
	if c == nil {
		return Info{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoadedLocked(ctx); err != nil {
		c.logger.Warnf(ctx, "[Metadata] lookup unavailable: %v", err)
		return Info{}, false
	}

	info, ok := c.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return info, ok
}
