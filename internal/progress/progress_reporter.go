// SPDX-License-Identifier: Apache-2.0

package progress

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/xataio/searchsync/pkg/orchestrator"
)

// Reporter renders the progress of refreshes and orphan cleanups with one bar
// per index and step. Bars only move forward and close once complete.
type Reporter struct {
	newBar func(description string) Bar

	mutex sync.Mutex
	bars  map[string]*stepBar
}

type stepBar struct {
	bar     Bar
	current int
	done    bool
}

type ReporterOption func(*Reporter)

var _ orchestrator.ProgressReporter = (*Reporter)(nil)

func NewReporter(opts ...ReporterOption) *Reporter {
	r := &Reporter{
		newBar: func(description string) Bar { return NewStepBar(description) },
		bars:   map[string]*stepBar{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func WithBarBuilder(fn func(description string) Bar) ReporterOption {
	return func(r *Reporter) {
		r.newBar = fn
	}
}

func (r *Reporter) Report(_ context.Context, p orchestrator.Progress) {
	// planning has no measurable progress
	if p.Step == orchestrator.StepPlanning {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := p.RunID + "/" + p.IndexHandle + "/" + string(p.Step)
	sb, found := r.bars[key]
	if !found {
		sb = &stepBar{bar: r.newBar(fmt.Sprintf("%s: %s", p.IndexHandle, p.Step))}
		r.bars[key] = sb
	}
	if sb.done {
		return
	}

	target := min(int(math.Round(p.Fraction*barMax)), barMax)
	if target > sb.current {
		sb.bar.Add(target - sb.current) //nolint:errcheck
		sb.current = target
	}
	if sb.current == barMax {
		sb.done = true
		sb.bar.Close() //nolint:errcheck
	}
}

// Close closes the bars left incomplete.
func (r *Reporter) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, sb := range r.bars {
		if !sb.done {
			sb.done = true
			sb.bar.Close() //nolint:errcheck
		}
	}
	return nil
}
