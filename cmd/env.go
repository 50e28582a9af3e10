package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/candidate-intake/internal/batch"
	"github.com/sells-group/candidate-intake/internal/checkpoint"
	"github.com/sells-group/candidate-intake/internal/classify"
	"github.com/sells-group/candidate-intake/internal/config"
	"github.com/sells-group/candidate-intake/internal/ingest"
	"github.com/sells-group/candidate-intake/internal/mailbox"
	"github.com/sells-group/candidate-intake/internal/resilience"
	"github.com/sells-group/candidate-intake/internal/store"
)

// intakeEnv holds the store, rule tables, pipeline and batch processor
// shared by the serve and batch commands.
type intakeEnv struct {
	Store       store.Store
	Rules       classify.Rules
	Pipeline    *ingest.Pipeline
	Checkpoints checkpoint.Checkpointer
	Processor   *batch.Processor
	closers     []io.Closer
}

// Close releases resources held by the environment.
func (e *intakeEnv) Close() {
	for _, c := range e.closers {
		_ = c.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates the config for mode, opens and migrates the store, and
// wires the pipeline and batch processor. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, mode string) (*intakeEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env, err := buildEnv(c, st)
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

// buildEnv wires everything above an already-open store.
func buildEnv(c *config.Config, st store.Store) (*intakeEnv, error) {
	env := &intakeEnv{Store: st}

	rules, err := classify.LoadRules(c.Rules.File)
	if err != nil {
		return env, err
	}
	env.Rules = rules
	env.Pipeline = ingest.NewPipeline(rules, ingest.New(st))

	cp, closer, err := initCheckpointer(c, st)
	if err != nil {
		return env, err
	}
	if closer != nil {
		env.closers = append(env.closers, closer)
	}
	env.Checkpoints = cp

	policy, err := ingest.ParsePolicy(c.Batch.UpdatePolicy)
	if err != nil {
		return env, err
	}
	src, err := initSource(c)
	if err != nil {
		return env, err
	}
	env.Processor = batch.New(batch.Config{
		JobName:        c.Batch.JobName,
		TimeBudget:     c.Batch.TimeBudget,
		RateLimitDelay: c.Batch.RateLimitDelay,
		Retry:          resilience.NewPolicy(c.Batch.MaxAttempts, c.Batch.RetryBackoff),
	}, src, cp, batch.PipelineUnit(env.Pipeline, policy))

	zap.L().Debug("environment ready",
		zap.String("store", c.Store.Driver),
		zap.String("checkpoint", c.Checkpoint.Backend),
		zap.String("source", c.Batch.Source),
		zap.String("policy", string(policy)),
	)
	return env, nil
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "intake.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initCheckpointer returns the configured checkpoint backend and, for
// redis, the client to close on shutdown.
func initCheckpointer(c *config.Config, st store.Store) (checkpoint.Checkpointer, io.Closer, error) {
	switch c.Checkpoint.Backend {
	case "", "store":
		return checkpoint.NewStore(st), nil, nil
	case "redis":
		rdb := checkpoint.NewRedisClient(c.Redis.Addr, c.Redis.Password, c.Redis.DB)
		return checkpoint.NewRedis(rdb, c.Checkpoint.TTL), rdb, nil
	case "memory":
		return checkpoint.NewMemory(), nil, nil
	default:
		return nil, nil, eris.Errorf("unsupported checkpoint backend: %s", c.Checkpoint.Backend)
	}
}

func initSource(c *config.Config) (batch.Source, error) {
	switch c.Batch.Source {
	case "", "dir":
		return mailbox.NewDirSource(c.Batch.SourcePath), nil
	case "json":
		return mailbox.NewJSONSource(c.Batch.SourcePath), nil
	default:
		return nil, eris.Errorf("unsupported batch source: %s", c.Batch.Source)
	}
}
