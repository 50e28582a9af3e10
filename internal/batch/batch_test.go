package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/candidate-intake/internal/checkpoint"
	"github.com/sells-group/candidate-intake/internal/classify"
	"github.com/sells-group/candidate-intake/internal/ingest"
	"github.com/sells-group/candidate-intake/internal/mailbox"
	"github.com/sells-group/candidate-intake/internal/model"
	"github.com/sells-group/candidate-intake/internal/resilience"
	"github.com/sells-group/candidate-intake/internal/store"
)

// checkDeadline expires once it has been consulted more than limit times.
type checkDeadline struct {
	limit int
	calls int
}

func (d *checkDeadline) Exceeded() bool {
	d.calls++
	return d.calls > d.limit
}

func (d *checkDeadline) Remaining() (time.Duration, bool) { return 0, false }

type neverDeadline struct{}

func (neverDeadline) Exceeded() bool                   { return false }
func (neverDeadline) Remaining() (time.Duration, bool) { return 0, false }

// recordingCheckpointer counts saves around an in-memory checkpointer.
type recordingCheckpointer struct {
	*checkpoint.Memory
	saves int
}

func (r *recordingCheckpointer) Save(ctx context.Context, job string, p *model.Progress) error {
	r.saves++
	return r.Memory.Save(ctx, job, p)
}

// testGroups builds count/2 single-message threads followed by one thread
// holding the rest, with message ids msg-01..msg-NN.
func testGroups(count int) mailbox.StaticSource {
	var groups mailbox.StaticSource
	var tail model.Group
	tail.ID = "thread-tail"
	for i := 1; i <= count; i++ {
		msg := model.Message{ID: fmt.Sprintf("msg-%02d", i)}
		if i <= count/2 {
			groups = append(groups, model.Group{ID: fmt.Sprintf("thread-%02d", i), Messages: []model.Message{msg}})
			continue
		}
		tail.Messages = append(tail.Messages, msg)
	}
	return append(groups, tail)
}

func createdUnit(calls *[]string) UnitFunc {
	return func(_ context.Context, msg model.Message) (model.Outcome, error) {
		*calls = append(*calls, msg.ID)
		return model.OutcomeCreated, nil
	}
}

func fastConfig() Config {
	return Config{
		JobName: "test-job",
		Retry:   resilience.Policy{Attempts: 1},
	}
}

func unlimited() Option {
	return WithLimiter(rate.NewLimiter(rate.Inf, 1))
}

func TestRun_PauseAndResume(t *testing.T) {
	ctx := context.Background()
	src := testGroups(10)
	cp := checkpoint.NewMemory()
	var calls []string

	first := New(fastConfig(), src, cp, createdUnit(&calls), unlimited(),
		WithDeadline(func() Deadline { return &checkDeadline{limit: 4} }))

	report, err := first.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatePaused, report.State)
	assert.Equal(t, StatePaused, first.State())
	assert.Equal(t, 4, report.Processed)

	saved, err := cp.Load(ctx, "test-job")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Len(t, saved.ProcessedKeys, 4)
	assert.Equal(t, 4, saved.Stats.Created)
	assert.Equal(t, 4, saved.OuterIndex, "cursor points at the next unprocessed unit")
	assert.Equal(t, 0, saved.InnerIndex)

	second := New(fastConfig(), src, cp, createdUnit(&calls), unlimited(),
		WithDeadline(func() Deadline { return neverDeadline{} }))
	report, err = second.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, 6, report.Processed)
	assert.Equal(t, 10, report.Progress.Stats.Created)
	assert.Equal(t, 10, report.Progress.Stats.Total())

	assert.Len(t, calls, 10)
	assert.Equal(t, "msg-01", calls[0])
	assert.Equal(t, "msg-05", calls[4], "second run starts at unit 5")
	assert.Equal(t, "msg-10", calls[9])

	gone, err := cp.Load(ctx, "test-job")
	require.NoError(t, err)
	assert.Nil(t, gone, "completion clears the checkpoint")
}

func TestRun_PauseInsideGroup(t *testing.T) {
	ctx := context.Background()
	src := testGroups(10)
	cp := checkpoint.NewMemory()
	var calls []string

	p := New(fastConfig(), src, cp, createdUnit(&calls), unlimited(),
		WithDeadline(func() Deadline { return &checkDeadline{limit: 7} }))
	_, err := p.Run(ctx)
	require.NoError(t, err)

	saved, err := cp.Load(ctx, "test-job")
	require.NoError(t, err)
	assert.Equal(t, 5, saved.OuterIndex)
	assert.Equal(t, 2, saved.InnerIndex, "deadline checked before every unit, not per group")

	p = New(fastConfig(), src, cp, createdUnit(&calls), unlimited(),
		WithDeadline(func() Deadline { return neverDeadline{} }))
	report, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, []string{"msg-08", "msg-09", "msg-10"}, calls[7:])
}

func TestRun_ResumeMatchesUninterrupted(t *testing.T) {
	ctx := context.Background()
	src := testGroups(12)
	outcomes := []model.Outcome{
		model.OutcomeCreated, model.OutcomeUpdated, model.OutcomeSkipped,
	}
	unit := func(_ context.Context, msg model.Message) (model.Outcome, error) {
		var n int
		_, _ = fmt.Sscanf(msg.ID, "msg-%d", &n)
		if n == 7 {
			return model.OutcomeError, errors.New("store unavailable")
		}
		return outcomes[n%len(outcomes)], nil
	}

	straight := New(fastConfig(), src, checkpoint.NewMemory(), unit, unlimited(),
		WithDeadline(func() Deadline { return neverDeadline{} }))
	want, err := straight.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, want.State)

	cp := checkpoint.NewMemory()
	var final *Report
	for runs := 0; runs < 10; runs++ {
		p := New(fastConfig(), src, cp, unit, unlimited(),
			WithDeadline(func() Deadline { return &checkDeadline{limit: 3} }))
		final, err = p.Run(ctx)
		require.NoError(t, err)
		if final.State == StateCompleted {
			break
		}
	}
	require.Equal(t, StateCompleted, final.State)
	assert.Equal(t, want.Progress.Stats, final.Progress.Stats)
	assert.Equal(t, 1, final.Progress.Stats.Error)
}

func TestRun_SkipsProcessedKeys(t *testing.T) {
	ctx := context.Background()
	src := testGroups(6)
	cp := checkpoint.NewMemory()

	seed := model.NewProgress(time.Now())
	seed.ProcessedKeys = []string{"msg-02", "msg-05"}
	seed.Stats.Created = 2
	require.NoError(t, cp.Save(ctx, "test-job", seed))

	var calls []string
	p := New(fastConfig(), src, cp, createdUnit(&calls), unlimited())
	report, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, []string{"msg-01", "msg-03", "msg-04", "msg-06"}, calls)
	assert.Equal(t, 6, report.Progress.Stats.Created)
}

func TestRun_ErrorNotAddedToProcessedKeys(t *testing.T) {
	ctx := context.Background()
	src := testGroups(4)
	cp := checkpoint.NewMemory()

	unit := func(_ context.Context, msg model.Message) (model.Outcome, error) {
		if msg.ID == "msg-02" {
			return model.OutcomeError, errors.New("write failed")
		}
		return model.OutcomeCreated, nil
	}
	p := New(fastConfig(), src, cp, unit, unlimited(),
		WithDeadline(func() Deadline { return &checkDeadline{limit: 3} }))
	report, err := p.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StatePaused, report.State)

	saved, err := cp.Load(ctx, "test-job")
	require.NoError(t, err)
	assert.Equal(t, []string{"msg-01", "msg-03"}, saved.ProcessedKeys)
	assert.Equal(t, 1, saved.Stats.Error)
	assert.Equal(t, 2, saved.Stats.Created)
}

func TestRun_PanicIsolated(t *testing.T) {
	ctx := context.Background()
	src := testGroups(3)
	var calls []string
	unit := func(_ context.Context, msg model.Message) (model.Outcome, error) {
		calls = append(calls, msg.ID)
		if msg.ID == "msg-01" {
			panic("nil map write")
		}
		return model.OutcomeCreated, nil
	}

	p := New(fastConfig(), src, checkpoint.NewMemory(), unit, unlimited())
	report, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, 1, report.Progress.Stats.Error)
	assert.Equal(t, 2, report.Progress.Stats.Created)
	assert.Len(t, calls, 3)
}

func TestRun_RetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	var attempts atomic.Int32
	unit := func(_ context.Context, _ model.Message) (model.Outcome, error) {
		if attempts.Add(1) < 3 {
			return model.OutcomeError, resilience.NewTransientError(errors.New("database is locked"))
		}
		return model.OutcomeUpdated, nil
	}

	cfg := fastConfig()
	cfg.Retry = resilience.Policy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	p := New(cfg, mailbox.StaticSource{{ID: "g", Messages: []model.Message{{ID: "m"}}}},
		checkpoint.NewMemory(), unit, unlimited())

	report, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 1, report.Progress.Stats.Updated)
	assert.Zero(t, report.Progress.Stats.Error)
}

func TestRun_SavesAfterEveryUnit(t *testing.T) {
	cp := &recordingCheckpointer{Memory: checkpoint.NewMemory()}
	var calls []string
	p := New(fastConfig(), testGroups(5), cp, createdUnit(&calls), unlimited())

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, cp.saves)
}

func TestRun_ContextCancelledPauses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cp := checkpoint.NewMemory()
	unit := func(_ context.Context, msg model.Message) (model.Outcome, error) {
		if msg.ID == "msg-02" {
			cancel()
		}
		return model.OutcomeCreated, nil
	}

	p := New(fastConfig(), testGroups(6), cp, unit, unlimited())
	report, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatePaused, report.State)

	saved, err := cp.Load(context.Background(), "test-job")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, []string{"msg-01", "msg-02"}, saved.ProcessedKeys)
}

type failingSource struct{}

func (failingSource) Groups(context.Context) ([]model.Group, error) {
	return nil, errors.New("mailbox offline")
}

func TestRun_SourceError(t *testing.T) {
	p := New(fastConfig(), failingSource{}, checkpoint.NewMemory(), nil)
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailbox offline")
}

type brokenCheckpointer struct{ *checkpoint.Memory }

func (b *brokenCheckpointer) Save(context.Context, string, *model.Progress) error {
	return errors.New("disk full")
}

func TestRun_CheckpointSaveFailureAborts(t *testing.T) {
	var calls []string
	p := New(fastConfig(), testGroups(4), &brokenCheckpointer{Memory: checkpoint.NewMemory()}, createdUnit(&calls), unlimited())
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save checkpoint")
	assert.Len(t, calls, 1)
}

func TestRun_EmptySource(t *testing.T) {
	p := New(fastConfig(), mailbox.StaticSource{}, checkpoint.NewMemory(), nil, unlimited())
	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, report.State)
	assert.Zero(t, report.Processed)
}

func TestStatusAndReset(t *testing.T) {
	ctx := context.Background()
	cp := checkpoint.NewMemory()
	var calls []string
	p := New(fastConfig(), testGroups(6), cp, createdUnit(&calls), unlimited(),
		WithDeadline(func() Deadline { return &checkDeadline{limit: 2} }))

	status, err := p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, status.State)
	assert.Nil(t, status.Progress)

	_, err = p.Run(ctx)
	require.NoError(t, err)

	status, err = p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatePaused, status.State)
	require.NotNil(t, status.Progress)
	assert.Len(t, status.Progress.ProcessedKeys, 2)

	require.NoError(t, p.Reset(ctx))
	assert.Equal(t, StateIdle, p.State())
	status, err = p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, status.State)

	// After reset the next run starts from the beginning.
	calls = nil
	_, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"msg-01", "msg-02"}, calls)
}

func TestDedupKey(t *testing.T) {
	g := model.Group{ID: "thread-1", Messages: []model.Message{{ID: "abc"}, {}}}
	assert.Equal(t, "abc", DedupKey(g, 0))
	assert.Equal(t, "thread-1#1", DedupKey(g, 1))
}

func TestNewLimiter(t *testing.T) {
	assert.Equal(t, rate.Inf, NewLimiter(0).Limit())
	assert.Equal(t, rate.Every(250*time.Millisecond), NewLimiter(250*time.Millisecond).Limit())
}

func TestRun_RateLimitBetweenUnits(t *testing.T) {
	const delay = 30 * time.Millisecond
	var starts []time.Time
	unit := func(_ context.Context, _ model.Message) (model.Outcome, error) {
		starts = append(starts, time.Now())
		return model.OutcomeCreated, nil
	}
	p := New(fastConfig(), testGroups(4), checkpoint.NewMemory(), unit,
		WithLimiter(NewLimiter(delay)))

	begin := time.Now()
	report, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, report.State)
	require.Len(t, starts, 4)

	assert.Less(t, starts[0].Sub(begin), delay, "first unit starts without waiting")
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), delay-2*time.Millisecond, "gap before unit %d", i+1)
	}
	assert.Less(t, time.Since(starts[3]), delay, "no wait after the last unit")
}

func TestRun_RateLimitWaitStopsAtBudget(t *testing.T) {
	cfg := fastConfig()
	cfg.TimeBudget = 50 * time.Millisecond
	cp := checkpoint.NewMemory()
	var calls []string
	p := New(cfg, testGroups(4), cp, createdUnit(&calls), WithLimiter(NewLimiter(time.Hour)))

	begin := time.Now()
	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(begin), 5*time.Second, "wait must not outlast the budget")
	assert.Equal(t, StatePaused, report.State)
	assert.Equal(t, []string{"msg-01"}, calls)

	saved, err := cp.Load(context.Background(), "test-job")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 1, saved.OuterIndex, "cursor stays on the unit that was not started")
	assert.Equal(t, 0, saved.InnerIndex)
	assert.Equal(t, []string{"msg-01"}, saved.ProcessedKeys)
}

func TestRun_UnreadableMessageCountsAsError(t *testing.T) {
	src := mailbox.StaticSource{
		{ID: "t", Messages: []model.Message{
			{ID: "good-1"},
			{ID: "t/02.eml", ReadError: `mailbox: unsupported charset "x-unknown-jp"`},
			{ID: "good-2"},
		}},
	}
	var calls []string
	cp := checkpoint.NewMemory()
	p := New(fastConfig(), src, cp, createdUnit(&calls), unlimited())

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, []string{"good-1", "good-2"}, calls, "unreadable message never reaches the unit")
	assert.Equal(t, 2, report.Progress.Stats.Created)
	assert.Equal(t, 1, report.Progress.Stats.Error)
	assert.NotContains(t, report.Progress.ProcessedKeys, "t/02.eml")
}

func TestClockDeadline(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	d := NewDeadline(5*time.Minute, clock)
	assert.False(t, d.Exceeded())
	left, bounded := d.Remaining()
	assert.True(t, bounded)
	assert.Equal(t, 5*time.Minute, left)

	now = now.Add(5 * time.Minute)
	assert.False(t, d.Exceeded(), "exactly at budget is not exceeded")

	now = now.Add(time.Second)
	assert.True(t, d.Exceeded())
	left, _ = d.Remaining()
	assert.Zero(t, left)

	unbounded := NewDeadline(0, clock)
	now = now.Add(24 * time.Hour)
	assert.False(t, unbounded.Exceeded())
	_, bounded = unbounded.Remaining()
	assert.False(t, bounded)
}

// --- end to end through the ingestion pipeline ---

func TestPipelineUnit_EndToEnd(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "batch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	pipe := ingest.NewPipeline(classify.DefaultRules(), ingest.New(st))
	src := mailbox.StaticSource{
		{ID: "t1", Messages: []model.Message{
			{ID: "m1", Subject: "新規応募", From: "snapjob@roxx.co.jp", Body: "氏名：山田 太郎\nメールアドレス：taro@example.com"},
			{ID: "m2", Subject: "Re: 新規応募", From: "snapjob@roxx.co.jp", Body: "氏名：山田 太郎\nメールアドレス：taro@example.com"},
		}},
		{ID: "t2", Messages: []model.Message{
			{ID: "m3", Subject: "新規応募", From: "snapjob@roxx.co.jp", Body: "氏名：名無し"},
			{ID: "m4", Subject: "lunch?", From: "friend@example.com", Body: "hi"},
		}},
	}

	p := New(fastConfig(), src, checkpoint.NewStore(st), PipelineUnit(pipe, ingest.PolicyProvenance), unlimited())
	report, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, model.Stats{Created: 1, Updated: 1, Skipped: 2}, report.Progress.Stats)

	n, err := st.CountCustomers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c, err := st.FindCustomerByEmail(ctx, "taro@example.com")
	require.NoError(t, err)
	statuses, err := st.CountStatuses(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, statuses)
}
