// SPDX-License-Identifier: Apache-2.0

package orchestrator

import "context"

type Step string

const (
	StepPlanning Step = "planning"
	StepIndexing Step = "indexing"
	StepSwap     Step = "swap"
	StepOrphans  Step = "orphans"
)

// Progress is a snapshot of a running refresh or cleanup. Fraction goes from
// 0 to 1 within a step.
type Progress struct {
	RunID       string
	IndexHandle string
	Step        Step
	Fraction    float64
	Message     string
}

type ProgressReporter interface {
	Report(ctx context.Context, p Progress)
}

type ProgressReporterFn func(ctx context.Context, p Progress)

func (fn ProgressReporterFn) Report(ctx context.Context, p Progress) {
	fn(ctx, p)
}

type noopProgressReporter struct{}

func (noopProgressReporter) Report(context.Context, Progress) {}

func fraction(done, total int) float64 {
	if total <= 0 {
		return 1
	}
	f := float64(done) / float64(total)
	return min(max(f, 0), 1)
}
