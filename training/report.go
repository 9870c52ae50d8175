package training

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/citegraph/glmtrain/checkpoint"
)

// ReportWriter appends evaluation results to the persistent plain-text
// report. Only the lead process writes; each evaluated checkpoint gets a
// slot-identifying line, the full counters mapping, and a blank line.
type ReportWriter struct {
	path string
}

// NewReportWriter creates a writer for the report at path.
func NewReportWriter(path string) (*ReportWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("report path must not be empty")
	}
	return &ReportWriter{path: path}, nil
}

// Append writes one evaluated checkpoint's results.
func (w *ReportWriter) Append(epoch int, tag checkpoint.PhaseTag, counters map[string]float64) error {
	file, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open report file: %v", err)
	}
	defer file.Close()

	if _, err := fmt.Fprintf(file, "%d_%s\n%s\n\n", epoch+1, tag, FormatCounters(counters)); err != nil {
		return fmt.Errorf("failed to append to report file: %v", err)
	}
	return nil
}

// FormatCounters renders a counters mapping deterministically, sorted by
// key.
func FormatCounters(counters map[string]float64) string {
	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %g", k, counters[k])
	}
	b.WriteString("}")
	return b.String()
}
