// Package checkpoint persists batch progress between invocations.
package checkpoint

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/candidate-intake/internal/model"
)

// Checkpointer loads, saves, and clears the progress of a named job.
// Load returns nil, nil when the job has no checkpoint.
type Checkpointer interface {
	Load(ctx context.Context, jobName string) (*model.Progress, error)
	Save(ctx context.Context, jobName string, p *model.Progress) error
	Clear(ctx context.Context, jobName string) error
}

func encode(p *model.Progress) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: marshal progress")
	}
	return data, nil
}

func decode(data []byte) (*model.Progress, error) {
	var p model.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "checkpoint: unmarshal progress")
	}
	if p.ProcessedKeys == nil {
		p.ProcessedKeys = []string{}
	}
	return &p, nil
}

// Memory keeps checkpoints in process. Used for dry runs and tests.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory checkpointer.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Load implements Checkpointer.
func (m *Memory) Load(_ context.Context, jobName string) (*model.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[jobName]
	if !ok {
		return nil, nil
	}
	return decode(data)
}

// Save implements Checkpointer.
func (m *Memory) Save(_ context.Context, jobName string, p *model.Progress) error {
	data, err := encode(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[jobName] = data
	m.mu.Unlock()
	return nil
}

// Clear implements Checkpointer.
func (m *Memory) Clear(_ context.Context, jobName string) error {
	m.mu.Lock()
	delete(m.data, jobName)
	m.mu.Unlock()
	return nil
}
