package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Severity levels, ordered from worst to informational.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// ParseSeverity normalizes and validates a severity string.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("invalid severity %q (expected critical, high, medium, low or info)", s)
	}
	return sev, nil
}

// Vulnerability is one reported finding.
type Vulnerability struct {
	Title       string    `json:"title"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	PoC         string    `json:"poc,omitempty"`
	ReportedAt  time.Time `json:"reported_at"`
}

// Vulnerabilities collects findings for a run. Reports with a title
// already seen replace the earlier entry instead of duplicating it.
type Vulnerabilities struct {
	mu    sync.Mutex
	items []Vulnerability
	index map[string]int // lowercased title -> position
}

// NewVulnerabilities creates an empty collection.
func NewVulnerabilities() *Vulnerabilities {
	return &Vulnerabilities{index: make(map[string]int)}
}

// Add records a finding. Returns true if this was a new title.
func (v *Vulnerabilities) Add(vuln Vulnerability) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if vuln.ReportedAt.IsZero() {
		vuln.ReportedAt = time.Now()
	}
	key := strings.ToLower(strings.TrimSpace(vuln.Title))
	if i, ok := v.index[key]; ok {
		v.items[i] = vuln
		return false
	}
	v.index[key] = len(v.items)
	v.items = append(v.items, vuln)
	return true
}

// Count returns the number of distinct findings.
func (v *Vulnerabilities) Count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.items)
}

// Sorted returns findings ordered by severity, worst first, keeping
// report order within a severity.
func (v *Vulnerabilities) Sorted() []Vulnerability {
	v.mu.Lock()
	out := make([]Vulnerability, len(v.items))
	copy(out, v.items)
	v.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return severityRank[out[i].Severity] < severityRank[out[j].Severity]
	})
	return out
}
