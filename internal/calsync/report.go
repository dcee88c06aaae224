package calsync

import (
	"fmt"
	"time"
)

// Phase names one ordered stage of a sync run.
type Phase string

const (
	PhaseDeletions         Phase = "deletions"
	PhaseImportedEvents    Phase = "importedEvents"
	PhaseExportedEvents    Phase = "exportedEvents"
	PhaseExportedDeadlines Phase = "exportedDeadlines"
	PhaseExportedExams     Phase = "exportedExams"
	PhaseExportedWork      Phase = "exportedWork"
	PhaseExportedClasses   Phase = "exportedClasses"
)

// phaseOrder is the fixed execution order of a run.
var phaseOrder = []Phase{
	PhaseDeletions,
	PhaseImportedEvents,
	PhaseExportedEvents,
	PhaseExportedDeadlines,
	PhaseExportedExams,
	PhaseExportedWork,
	PhaseExportedClasses,
}

// PhaseResult collects the outcome of one phase. Errors never stop a phase;
// each failed entity adds one entry.
type PhaseResult struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Deleted int      `json:"deleted,omitempty"`
	Skipped bool     `json:"skipped,omitempty"` // Disabled by its toggle
	Errors  []string `json:"errors"`
}

func (r *PhaseResult) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Report is the result of a sync run.
type Report struct {
	StartedAt         time.Time      `json:"startedAt"`
	DurationMs        int64          `json:"durationMs"`
	Deletions         PhaseResult    `json:"deletions"`
	ImportedEvents    PhaseResult    `json:"importedEvents"`
	ExportedEvents    PhaseResult    `json:"exportedEvents"`
	ExportedDeadlines PhaseResult    `json:"exportedDeadlines"`
	ExportedExams     PhaseResult    `json:"exportedExams"`
	ExportedWork      PhaseResult    `json:"exportedWork"`
	ExportedClasses   PhaseResult    `json:"exportedClasses"`
	Debug             map[string]int `json:"debug"`
}

func newReport(startedAt time.Time) *Report {
	r := &Report{StartedAt: startedAt, Debug: make(map[string]int)}
	for _, p := range phaseOrder {
		r.Phase(p).Errors = make([]string, 0)
	}
	return r
}

// Phase returns the result record of p.
func (r *Report) Phase(p Phase) *PhaseResult {
	switch p {
	case PhaseDeletions:
		return &r.Deletions
	case PhaseImportedEvents:
		return &r.ImportedEvents
	case PhaseExportedEvents:
		return &r.ExportedEvents
	case PhaseExportedDeadlines:
		return &r.ExportedDeadlines
	case PhaseExportedExams:
		return &r.ExportedExams
	case PhaseExportedWork:
		return &r.ExportedWork
	case PhaseExportedClasses:
		return &r.ExportedClasses
	}
	panic(fmt.Sprintf("calsync: unknown phase %q", p))
}

// Totals sums counters across all phases.
func (r *Report) Totals() (created, updated, deleted int) {
	for _, p := range phaseOrder {
		res := r.Phase(p)
		created += res.Created
		updated += res.Updated
		deleted += res.Deleted
	}
	return created, updated, deleted
}

// Errors returns every phase error prefixed with its phase name.
func (r *Report) Errors() []string {
	var all []string
	for _, p := range phaseOrder {
		for _, e := range r.Phase(p).Errors {
			all = append(all, fmt.Sprintf("%s: %s", p, e))
		}
	}
	return all
}

// ErrorCount returns the number of errors across all phases.
func (r *Report) ErrorCount() int {
	n := 0
	for _, p := range phaseOrder {
		n += len(r.Phase(p).Errors)
	}
	return n
}

// Summary is a one-line description for logs and the sync history.
func (r *Report) Summary() string {
	created, updated, deleted := r.Totals()
	return fmt.Sprintf("Created %d, updated %d, deleted %d, %d errors", created, updated, deleted, r.ErrorCount())
}
