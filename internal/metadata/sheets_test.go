package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRowsIndexesByTestID(t *testing.T) {
	values := [][]interface{}{
		{"TEST_ID", "TEST_NAME", "SUPPORT_LAB_DESCMAT"},
		{"HB", "Hemoglobin", "Sangue total"},
		{" prot ", "Protein", "Urina"},
		{"", "no code, skipped", "x"},
		{"SHORT"},
	}

	byCode, err := parseRows(values)
	require.NoError(t, err)
	require.Len(t, byCode, 2)

	assert.Equal(t, Info{TestName: "Hemoglobin", Material: "Sangue total"}, byCode["HB"])
	assert.Equal(t, Info{TestName: "Protein", Material: "Urina"}, byCode["PROT"])
}

func TestParseRowsDiscoversColumnsByHeader(t *testing.T) {
	// Columns rearranged, with an extra one in between.
	values := [][]interface{}{
		{"SUPPORT_LAB_DESCMAT", "ignored", "TEST_ID", "TEST_NAME"},
		{"Soro", "x", "GLI", "Glucose"},
	}

	byCode, err := parseRows(values)
	require.NoError(t, err)
	assert.Equal(t, Info{TestName: "Glucose", Material: "Soro"}, byCode["GLI"])
}

func TestParseRowsRejectsMissingHeader(t *testing.T) {
	values := [][]interface{}{
		{"TEST_ID", "TEST_NAME"},
		{"HB", "Hemoglobin"},
	}

	_, err := parseRows(values)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SUPPORT_LAB_DESCMAT")
}

func TestParseRowsEmpty(t *testing.T) {
	byCode, err := parseRows(nil)
	require.NoError(t, err)
	assert.Empty(t, byCode)
}
