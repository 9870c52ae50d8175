package training

import (
	"fmt"
	"strings"

	"github.com/citegraph/glmtrain/metrics"
)

// ProgressLine renders the lead process's running training description:
// current epoch, live learning rate, and one windowed loss average per
// configured loss name. Non-lead workers never construct one.
type ProgressLine struct {
	lossNames []string
	meters    map[string]*metrics.LossMeter
	lastWidth int
}

// NewProgressLine creates a progress line with one meter per loss name.
func NewProgressLine(lossNames []string) *ProgressLine {
	meters := make(map[string]*metrics.LossMeter, len(lossNames))
	for _, name := range lossNames {
		meters[name] = metrics.NewLossMeter(100)
	}
	return &ProgressLine{
		lossNames: lossNames,
		meters:    meters,
	}
}

// Observe feeds the step's per-loss averages into the meters. Names
// without an observation this step are skipped; their meters keep their
// previous window.
func (p *ProgressLine) Observe(stepAverages map[string]float64) {
	for name, avg := range stepAverages {
		if m, ok := p.meters[name]; ok {
			m.Update(avg)
		}
	}
}

// Render redraws the line in place. counts supplies the epoch-to-date
// example count shown next to each loss name.
func (p *ProgressLine) Render(epoch int, lr float64, counts map[string]int64) {
	var b strings.Builder
	fmt.Fprintf(&b, "Epoch %d | LR %.6f |", epoch, lr)
	for _, name := range p.lossNames {
		m := p.meters[name]
		if m.Len() == 0 {
			continue
		}
		fmt.Fprintf(&b, " %s (%d) %.3f", name, counts[name], m.Val())
	}

	line := b.String()
	pad := p.lastWidth - len(line)
	p.lastWidth = len(line)
	if pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	fmt.Printf("\r%s", line)
}

// Finish terminates the in-place line.
func (p *ProgressLine) Finish() {
	fmt.Println()
}
