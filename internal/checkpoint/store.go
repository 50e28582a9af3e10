package checkpoint

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/candidate-intake/internal/model"
)

// Repository is the subset of the store that holds checkpoint rows.
type Repository interface {
	SaveCheckpoint(ctx context.Context, jobName string, data []byte) error
	LoadCheckpoint(ctx context.Context, jobName string) (*model.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, jobName string) error
}

// StoreCheckpointer keeps progress as a JSON document in the checkpoints table.
type StoreCheckpointer struct {
	repo Repository
}

// NewStore returns a Checkpointer backed by repo.
func NewStore(repo Repository) *StoreCheckpointer {
	return &StoreCheckpointer{repo: repo}
}

// Load implements Checkpointer.
func (s *StoreCheckpointer) Load(ctx context.Context, jobName string) (*model.Progress, error) {
	cp, err := s.repo.LoadCheckpoint(ctx, jobName)
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: load %s", jobName)
	}
	if cp == nil || len(cp.Data) == 0 {
		return nil, nil
	}
	return decode(cp.Data)
}

// Save implements Checkpointer.
func (s *StoreCheckpointer) Save(ctx context.Context, jobName string, p *model.Progress) error {
	data, err := encode(p)
	if err != nil {
		return err
	}
	if err := s.repo.SaveCheckpoint(ctx, jobName, data); err != nil {
		return eris.Wrapf(err, "checkpoint: save %s", jobName)
	}
	return nil
}

// Clear implements Checkpointer.
func (s *StoreCheckpointer) Clear(ctx context.Context, jobName string) error {
	if err := s.repo.DeleteCheckpoint(ctx, jobName); err != nil {
		return eris.Wrapf(err, "checkpoint: clear %s", jobName)
	}
	return nil
}
