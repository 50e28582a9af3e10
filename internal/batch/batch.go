// Package batch runs the resumable reprocessing job over a mail backlog.
//
// Each invocation works until the message set is exhausted or its time
// budget runs out. Progress (cursor, processed keys, outcome tallies) is
// saved after every unit so the next invocation resumes where the last one
// stopped. Two invocations running at once will overwrite each other's
// checkpoint; runs are expected to be issued serially.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/candidate-intake/internal/checkpoint"
	"github.com/sells-group/candidate-intake/internal/metrics"
	"github.com/sells-group/candidate-intake/internal/model"
	"github.com/sells-group/candidate-intake/internal/resilience"
)

// State is the processor's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
)

// Source yields the bounded set of message groups to process. It must
// return the same ordering on every call.
type Source interface {
	Groups(ctx context.Context) ([]model.Group, error)
}

// UnitFunc processes one message and reports its outcome. Returning an
// error counts the unit as failed; it is retried on a later run.
type UnitFunc func(ctx context.Context, msg model.Message) (model.Outcome, error)

// Config holds the processor settings.
type Config struct {
	JobName    string
	TimeBudget time.Duration
	// RateLimitDelay is the minimum spacing between the starts of two
	// processed units.
	RateLimitDelay time.Duration
	// Retry applies to transient failures of a unit and of checkpoint saves.
	Retry resilience.Policy
}

// Report summarizes one invocation or the stored checkpoint.
type Report struct {
	JobName   string          `json:"job_name"`
	State     State           `json:"state"`
	Processed int             `json:"processed"`
	Progress  *model.Progress `json:"progress,omitempty"`
}

// Processor drives Source units through a UnitFunc with checkpointing.
type Processor struct {
	cfg         Config
	source      Source
	checkpoints checkpoint.Checkpointer
	unit        UnitFunc
	limiter     *rate.Limiter
	now         func() time.Time
	newDeadline func() Deadline
	state       State
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithDeadline overrides how each run's deadline is built.
func WithDeadline(fn func() Deadline) Option {
	return func(p *Processor) { p.newDeadline = fn }
}

// WithLimiter overrides the limiter used between units.
func WithLimiter(l *rate.Limiter) Option {
	return func(p *Processor) { p.limiter = l }
}

// New creates a Processor.
func New(cfg Config, src Source, cp checkpoint.Checkpointer, unit UnitFunc, opts ...Option) *Processor {
	if cfg.JobName == "" {
		cfg.JobName = "reprocess"
	}
	p := &Processor{
		cfg:         cfg,
		source:      src,
		checkpoints: cp,
		unit:        unit,
		limiter:     NewLimiter(cfg.RateLimitDelay),
		now:         time.Now,
		state:       StateIdle,
	}
	for _, o := range opts {
		o(p)
	}
	if p.newDeadline == nil {
		p.newDeadline = func() Deadline { return NewDeadline(p.cfg.TimeBudget, p.now) }
	}
	return p
}

// NewLimiter allows one unit per delay. A non-positive delay disables
// throttling. The processor waits on it before every unit, so the first
// unit of a run starts at once and each later one waits a full delay.
func NewLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// State returns the state of the most recent run in this process.
func (p *Processor) State() State {
	return p.state
}

// DedupKey identifies a unit across runs: the message id, or the thread
// id and position when the message has none.
func DedupKey(g model.Group, inner int) string {
	if id := g.Messages[inner].ID; id != "" {
		return id
	}
	return fmt.Sprintf("%s#%d", g.ID, inner)
}

// Run processes units from the saved cursor until the source is exhausted
// (Completed, checkpoint cleared) or the deadline passes (Paused,
// checkpoint saved at the next unprocessed position). Cancelling ctx also
// pauses. A failure to persist the checkpoint aborts the run.
func (p *Processor) Run(ctx context.Context) (*Report, error) {
	deadline := p.newDeadline()
	log := zap.L().With(zap.String("job", p.cfg.JobName))

	progress, err := p.checkpoints.Load(ctx, p.cfg.JobName)
	if err != nil {
		return nil, eris.Wrap(err, "batch: load checkpoint")
	}
	if progress == nil {
		progress = model.NewProgress(p.now().UTC())
		log.Info("batch: starting new run")
	} else {
		log.Info("batch: resuming",
			zap.Int("outer", progress.OuterIndex),
			zap.Int("inner", progress.InnerIndex),
			zap.Int("processed_keys", len(progress.ProcessedKeys)),
		)
	}

	groups, err := p.source.Groups(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "batch: load source")
	}

	p.state = StateRunning
	seen := make(map[string]bool, len(progress.ProcessedKeys))
	for _, k := range progress.ProcessedKeys {
		seen[k] = true
	}

	report := &Report{JobName: p.cfg.JobName, Progress: progress}
	startOuter, startInner := progress.OuterIndex, progress.InnerIndex

	for outer := startOuter; outer < len(groups); outer++ {
		group := groups[outer]
		inner := 0
		if outer == startOuter {
			inner = startInner
		}
		for ; inner < len(group.Messages); inner++ {
			if deadline.Exceeded() || ctx.Err() != nil {
				return p.pause(ctx, report, outer, inner, log)
			}

			key := DedupKey(group, inner)
			if seen[key] {
				continue
			}
			if err := p.throttle(ctx, deadline); err != nil {
				return p.pause(ctx, report, outer, inner, log)
			}

			outcome := p.process(ctx, group.Messages[inner], key, log)
			progress.Stats.Add(outcome)
			if outcome != model.OutcomeError {
				seen[key] = true
				progress.ProcessedKeys = append(progress.ProcessedKeys, key)
			}
			report.Processed++
			metrics.RecordIngest("batch", string(outcome))

			progress.OuterIndex, progress.InnerIndex = outer, inner+1
			if err := p.save(ctx, progress); err != nil {
				p.state = StateIdle
				return report, err
			}
		}
	}

	if err := p.checkpoints.Clear(ctx, p.cfg.JobName); err != nil {
		p.state = StateIdle
		return report, eris.Wrap(err, "batch: clear checkpoint")
	}
	p.state = StateCompleted
	report.State = StateCompleted
	metrics.RecordBatchRun(p.cfg.JobName, string(StateCompleted))
	log.Info("batch: completed",
		zap.Int("processed", report.Processed),
		zap.Int("created", progress.Stats.Created),
		zap.Int("updated", progress.Stats.Updated),
		zap.Int("skipped", progress.Stats.Skipped),
		zap.Int("error", progress.Stats.Error),
	)
	return report, nil
}

func (p *Processor) pause(ctx context.Context, report *Report, outer, inner int, log *zap.Logger) (*Report, error) {
	progress := report.Progress
	progress.OuterIndex, progress.InnerIndex = outer, inner
	// The run context may already be cancelled; the pause must still persist.
	if err := p.save(context.WithoutCancel(ctx), progress); err != nil {
		p.state = StateIdle
		return report, err
	}
	p.state = StatePaused
	report.State = StatePaused
	metrics.RecordBatchRun(p.cfg.JobName, string(StatePaused))
	log.Info("batch: paused",
		zap.Int("outer", outer),
		zap.Int("inner", inner),
		zap.Int("processed", report.Processed),
	)
	return report, nil
}

// throttle waits for the limiter. The wait never outlasts the remaining
// time budget; an error means the run should pause.
func (p *Processor) throttle(ctx context.Context, deadline Deadline) error {
	if left, bounded := deadline.Remaining(); bounded {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, left)
		defer cancel()
	}
	return p.limiter.Wait(ctx)
}

func (p *Processor) save(ctx context.Context, progress *model.Progress) error {
	progress.UpdatedAt = p.now().UTC()
	err := p.cfg.Retry.Call(ctx, "save_checkpoint", p.cfg.JobName, func(ctx context.Context) error {
		return p.checkpoints.Save(ctx, p.cfg.JobName, progress)
	})
	if err != nil {
		return eris.Wrap(err, "batch: save checkpoint")
	}
	return nil
}

// process runs one unit with transient-error retry. Errors and panics are
// contained here and reported as OutcomeError.
func (p *Processor) process(ctx context.Context, msg model.Message, key string, log *zap.Logger) model.Outcome {
	start := p.now()
	defer func() { metrics.RecordBatchUnit(p.cfg.JobName, p.now().Sub(start)) }()

	if msg.ReadError != "" {
		log.Warn("batch: unreadable message", zap.String("key", key), zap.String("reason", msg.ReadError))
		return model.OutcomeError
	}

	outcome, err := resilience.CallValue(ctx, p.cfg.Retry, "batch_unit", key, func(ctx context.Context) (model.Outcome, error) {
		return p.safeUnit(ctx, msg)
	})
	if err != nil {
		log.Warn("batch: unit failed", zap.String("key", key), zap.Error(err))
		return model.OutcomeError
	}
	return outcome
}

func (p *Processor) safeUnit(ctx context.Context, msg model.Message) (outcome model.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = model.OutcomeError, eris.Errorf("batch: unit panicked: %v", r)
		}
	}()
	return p.unit(ctx, msg)
}

// Status reports the stored checkpoint without running anything.
func (p *Processor) Status(ctx context.Context) (*Report, error) {
	progress, err := p.checkpoints.Load(ctx, p.cfg.JobName)
	if err != nil {
		return nil, eris.Wrap(err, "batch: load checkpoint")
	}
	report := &Report{JobName: p.cfg.JobName, State: StateIdle, Progress: progress}
	if progress != nil {
		report.State = StatePaused
	}
	return report, nil
}

// Reset deletes the stored checkpoint so the next run starts over.
func (p *Processor) Reset(ctx context.Context) error {
	if err := p.checkpoints.Clear(ctx, p.cfg.JobName); err != nil {
		return eris.Wrap(err, "batch: reset checkpoint")
	}
	p.state = StateIdle
	zap.L().Info("batch: checkpoint reset", zap.String("job", p.cfg.JobName))
	return nil
}
