package progress

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
)

// Outcome 单条任务的结局
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailed
	OutcomeSkipped
)

// Reporter 抓取进度上报
type Reporter interface {
	Start(total int)
	Advance(outcome Outcome, currentURL string)
	Close()
}

// NewReporter enabled时返回进度条实现, 否则返回空实现
func NewReporter(label string, enabled bool) Reporter {
	if !enabled {
		return NopReporter{}
	}
	return &barReporter{label: label}
}

// barReporter 基于progressbar的终端进度条
type barReporter struct {
	label   string
	bar     *progressbar.ProgressBar
	success int
	failed  int
	skipped int
}

func (r *barReporter) Start(total int) {
	r.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(fmt.Sprintf("🕷 %s", r.label)),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (r *barReporter) Advance(outcome Outcome, currentURL string) {
	if r.bar == nil {
		return
	}
	switch outcome {
	case OutcomeSuccess:
		r.success++
	case OutcomeFailed:
		r.failed++
	default:
		r.skipped++
	}
	r.bar.Describe(fmt.Sprintf("🕷 %s ✓%d ✗%d ⊘%d %s",
		r.label, r.success, r.failed, r.skipped, shorten(currentURL, 32)))
	r.bar.Add(1)
}

func (r *barReporter) Close() {
	if r.bar != nil {
		r.bar.Finish()
		fmt.Println()
	}
}

// NopReporter 空实现, 批量模式与静默模式使用
type NopReporter struct{}

func (NopReporter) Start(total int)                            {}
func (NopReporter) Advance(outcome Outcome, currentURL string) {}
func (NopReporter) Close()                                     {}

func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "…" + s[len(s)-max:]
}
