// ABOUTME: Versioned upgrade pipeline for stored indexes
// ABOUTME: Each step runs in its own write transaction and records its target version on commit

// Package upgrade brings an index written by an older release up to the
// current format, one version step at a time.
package upgrade

import (
	"context"
	"time"

	"github.com/zeebo/errs"

	"github.com/nainya/fieldstore/internal/logger"
	"github.com/nainya/fieldstore/internal/metrics"
	"github.com/nainya/fieldstore/pkg/index"
	"github.com/nainya/fieldstore/pkg/progress"
	"github.com/nainya/fieldstore/pkg/storage"
	"github.com/nainya/fieldstore/pkg/version"
)

var (
	// Error wraps failures of a step or of the storage underneath it
	Error = errs.Class("upgrade")
	// ErrInvalidPipeline is returned when steps are misordered or incomplete
	ErrInvalidPipeline = errs.Class("invalid upgrade pipeline")
	// ErrUnsupportedVersion is returned for indexes older than the oldest upgradable version
	ErrUnsupportedVersion = errs.Class("unsupported index version")
	// ErrDowngrade is returned for indexes newer than this build
	ErrDowngrade = errs.Class("index downgrade")
)

// Action is the work of one step
type Action interface {
	// Upgrade applies the step through sc.Txn and reports whether the
	// index must be reindexed afterwards
	Upgrade(ctx context.Context, sc *StepContext) (needsReindex bool, err error)
}

// Func is an arbitrary step action
type Func func(ctx context.Context, sc *StepContext) (bool, error)

// Upgrade runs the function
func (fn Func) Upgrade(ctx context.Context, sc *StepContext) (bool, error) {
	return fn(ctx, sc)
}

// Step upgrades an index to Target
type Step struct {
	Description string
	Target      version.Version
	Phases      []string
	Action      Action
}

// StepContext is what an action may use while it runs
type StepContext struct {
	// Txn is the step's write transaction; nothing is visible until the step commits
	Txn   *storage.RwTxn
	Index *index.Index
	// Original is the version recorded before the pipeline started
	Original version.Version
	Log      *logger.Logger

	step     *Step
	progress progress.Progress
	metrics  *metrics.Metrics
}

// EnterPhase reports that the step entered its i-th phase
func (sc *StepContext) EnterPhase(i int) {
	sc.progress.Enter(sc.step.Target.String(), sc.step.Phases, i)
	if i >= 0 && i < len(sc.step.Phases) {
		sc.metrics.RecordUpgradePhase(sc.step.Target.String(), sc.step.Phases[i])
	}
}

// Pipeline is an ordered list of steps
type Pipeline struct {
	Oldest version.Version
	Steps  []*Step

	Log     *logger.Logger
	Metrics *metrics.Metrics
}

// Result describes a pipeline run
type Result struct {
	From     version.Version
	To       version.Version
	Executed []version.Version
	// NeedsReindex is true when any executed step asked for it
	NeedsReindex bool
}

// ValidateSteps checks that step targets are strictly ascending and above Oldest
func (p *Pipeline) ValidateSteps() error {
	prev := p.Oldest
	for i, step := range p.Steps {
		if step == nil || step.Action == nil {
			return ErrInvalidPipeline.New("step %d has no action", i)
		}
		if !prev.Less(step.Target) {
			return ErrInvalidPipeline.New("step %d targets %v, not after %v", i, step.Target, prev)
		}
		prev = step.Target
	}
	return nil
}

// Current is the version an index has after every step ran
func (p *Pipeline) Current() version.Version {
	if len(p.Steps) == 0 {
		return p.Oldest
	}
	return p.Steps[len(p.Steps)-1].Target
}

// Pending returns the steps an index at from still needs, in order
func (p *Pipeline) Pending(from version.Version) ([]*Step, error) {
	if err := p.ValidateSteps(); err != nil {
		return nil, err
	}
	if from.Less(p.Oldest) {
		return nil, ErrUnsupportedVersion.New("%v is older than %v", from, p.Oldest)
	}
	if p.Current().Less(from) {
		return nil, ErrDowngrade.New("%v is newer than %v", from, p.Current())
	}

	var pending []*Step
	for _, step := range p.Steps {
		if from.Less(step.Target) {
			pending = append(pending, step)
		}
	}
	return pending, nil
}

// RecordedVersion reads the index version; an index without one is at Oldest
func (p *Pipeline) RecordedVersion(ix *index.Index) (version.Version, error) {
	rtxn, err := ix.ReadTxn()
	if err != nil {
		return version.Version{}, Error.Wrap(err)
	}
	defer rtxn.Close()

	v, ok, err := ix.Version(rtxn)
	if err != nil {
		return version.Version{}, Error.Wrap(err)
	}
	if !ok {
		return p.Oldest, nil
	}
	return v, nil
}

func (p *Pipeline) log() *logger.Logger {
	if p.Log == nil {
		return logger.Nop()
	}
	return p.Log
}

// Run applies every pending step. A failing step is rolled back entirely
// and the run stops; steps committed before it stay applied.
func (p *Pipeline) Run(ctx context.Context, ix *index.Index, prog progress.Progress) (Result, error) {
	from, err := p.RecordedVersion(ix)
	if err != nil {
		return Result{}, err
	}
	pending, err := p.Pending(from)
	if err != nil {
		return Result{From: from, To: from}, err
	}

	res := Result{From: from, To: from}
	for _, step := range pending {
		if err := ctx.Err(); err != nil {
			return res, Error.Wrap(err)
		}

		needsReindex, err := p.runStep(ctx, ix, step, from, prog)
		if err != nil {
			return res, err
		}
		res.To = step.Target
		res.Executed = append(res.Executed, step.Target)
		res.NeedsReindex = res.NeedsReindex || needsReindex
	}

	if len(pending) == 0 {
		p.log().Debug("index is up to date").Str("version", from.String()).Send()
	} else {
		p.log().Info("index upgraded").
			Str("from", from.String()).
			Str("to", res.To.String()).
			Bool("needs_reindex", res.NeedsReindex).
			Send()
	}
	p.Metrics.SetIndexVersion(res.To.String())
	return res, nil
}

func (p *Pipeline) runStep(ctx context.Context, ix *index.Index, step *Step, original version.Version, prog progress.Progress) (needsReindex bool, err error) {
	target := step.Target.String()
	stepLog := p.log().UpgradeLogger(target)
	start := time.Now()

	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.Metrics.RecordUpgradeStep(target, status, time.Since(start))
		stepLog.LogUpgradeStep(target, step.Description, time.Since(start), needsReindex, err)
	}()

	wtxn, err := ix.WriteTxn()
	if err != nil {
		return false, Error.Wrap(err)
	}
	defer wtxn.Abort()

	sc := &StepContext{
		Txn:      wtxn,
		Index:    ix,
		Original: original,
		Log:      stepLog,
		step:     step,
		progress: prog,
		metrics:  p.Metrics,
	}

	needsReindex, err = step.Action.Upgrade(ctx, sc)
	if err != nil {
		return false, Error.New("step %s: %w", target, err)
	}
	if err := ix.PutVersion(wtxn, step.Target); err != nil {
		return false, Error.Wrap(err)
	}
	if err := version.RecordApplied(wtxn, step.Target); err != nil {
		return false, Error.Wrap(err)
	}
	if err := wtxn.Commit(); err != nil {
		return false, Error.Wrap(err)
	}
	return needsReindex, nil
}
