package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	assert.True(t, Match("q1_report.pdf", "REPORT"))
	assert.True(t, Match("q1_report.pdf", "Q1_Rep"))
	// Substring, not subsequence: the letters must be contiguous.
	assert.False(t, Match("q1_report.pdf", "RPT"))
	assert.True(t, Match("anything", ""))
}

func TestApply(t *testing.T) {
	names := []string{"q1_report.pdf", "photo.jpg", "report-draft.docx"}

	assert.Equal(t, []bool{true, false, true}, Apply(names, "REPORT"))
	assert.Equal(t, []bool{true, true, true}, Apply(names, ""))
	assert.Equal(t, []bool{false, false, false}, Apply(names, "zzz"))
	assert.Empty(t, Apply(nil, "x"))
}
