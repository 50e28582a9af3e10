package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/candidate-intake/internal/model"
)

// ErrDuplicate is returned when an insert collides with an existing
// customer email or an existing status for the same customer.
var ErrDuplicate = eris.New("store: duplicate record")

// Store defines the persistence interface for the candidate intake.
type Store interface {
	// Customers
	FindCustomerByEmail(ctx context.Context, email string) (*model.Customer, error)
	GetCustomer(ctx context.Context, id string) (*model.Customer, error)
	CreateCustomer(ctx context.Context, fields model.Candidate) (*model.Customer, error)
	CreateCustomerWithStatus(ctx context.Context, fields model.Candidate, now time.Time) (*model.Customer, *model.Status, error)
	UpdateCustomer(ctx context.Context, id string, fields model.Candidate) error
	CountCustomers(ctx context.Context) (int, error)

	// Statuses
	GetStatus(ctx context.Context, customerID string) (*model.Status, error)
	CreateStatus(ctx context.Context, st model.Status) (*model.Status, error)

	// Checkpoints
	SaveCheckpoint(ctx context.Context, jobName string, data []byte) error
	LoadCheckpoint(ctx context.Context, jobName string) (*model.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, jobName string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// customerSelect lists customer columns in scan order.
const customerSelect = `id, name, furigana, gender, age, phone_number, email, address,
	current_company, current_job_type, current_salary, desired_job_type,
	desired_industry, desired_salary, desired_location, desired_start_timing,
	driver_license, media, route, inflow_date, created_at, updated_at`

// writableColumns returns the candidate's customer columns in schema order
// along with their bind values.
func writableColumns(fields model.Candidate) ([]string, []any) {
	cols := fields.Columns()
	keys := cols.Keys()
	vals := make([]any, len(keys))
	for i, k := range keys {
		vals[i] = cols[k]
	}
	return keys, vals
}

func validateInsert(fields model.Candidate) error {
	if missing := fields.Missing(); len(missing) > 0 {
		return eris.Errorf("store: customer missing required fields %v", missing)
	}
	return nil
}
