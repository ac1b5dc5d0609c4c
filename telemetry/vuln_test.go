package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	sev, err := ParseSeverity(" High ")
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, sev)

	_, err = ParseSeverity("catastrophic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid severity")
}

func TestVulnerabilities_DedupByTitle(t *testing.T) {
	v := NewVulnerabilities()

	assert.True(t, v.Add(Vulnerability{Title: "SQL injection in /login", Severity: SeverityHigh}))
	assert.True(t, v.Add(Vulnerability{Title: "XSS in search", Severity: SeverityMedium}))
	// same title with different case replaces, does not duplicate
	assert.False(t, v.Add(Vulnerability{Title: "sql injection in /login", Severity: SeverityCritical}))

	assert.Equal(t, 2, v.Count())

	sorted := v.Sorted()
	require.Len(t, sorted, 2)
	assert.Equal(t, SeverityCritical, sorted[0].Severity)
}

func TestVulnerabilities_SortedBySeverity(t *testing.T) {
	v := NewVulnerabilities()
	v.Add(Vulnerability{Title: "a", Severity: SeverityInfo})
	v.Add(Vulnerability{Title: "b", Severity: SeverityCritical})
	v.Add(Vulnerability{Title: "c", Severity: SeverityMedium})
	v.Add(Vulnerability{Title: "d", Severity: SeverityCritical})

	sorted := v.Sorted()
	titles := []string{sorted[0].Title, sorted[1].Title, sorted[2].Title, sorted[3].Title}
	assert.Equal(t, []string{"b", "d", "c", "a"}, titles)
}
