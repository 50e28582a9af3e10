package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/candidate-intake/internal/db"
	"github.com/sells-group/candidate-intake/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(5)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS customers (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name                 TEXT NOT NULL,
	furigana             TEXT,
	gender               TEXT,
	age                  INTEGER,
	phone_number         TEXT,
	email                TEXT NOT NULL,
	address              TEXT,
	current_company      TEXT,
	current_job_type     TEXT,
	current_salary       INTEGER,
	desired_job_type     TEXT,
	desired_industry     TEXT,
	desired_salary       INTEGER,
	desired_location     TEXT,
	desired_start_timing TEXT,
	driver_license       BOOLEAN,
	media                TEXT,
	route                TEXT,
	inflow_date          TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_email ON customers (lower(email));
CREATE INDEX IF NOT EXISTS idx_customers_inflow_date ON customers (inflow_date);

CREATE TABLE IF NOT EXISTS statuses (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	customer_id         TEXT NOT NULL UNIQUE REFERENCES customers(id) ON DELETE CASCADE,
	status              TEXT NOT NULL,
	priority            TEXT NOT NULL,
	status_updated_date TIMESTAMPTZ NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS checkpoints (
	job_name   TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) FindCustomerByEmail(ctx context.Context, email string) (*model.Customer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+customerSelect+` FROM customers WHERE lower(email) = $1 LIMIT 1`,
		model.NormalizeEmail(email),
	)
	c, err := scanPgCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find customer by email")
	}
	return c, nil
}

func (s *PostgresStore) GetCustomer(ctx context.Context, id string) (*model.Customer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+customerSelect+` FROM customers WHERE id = $1`,
		id,
	)
	c, err := scanPgCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get customer %s", id)
	}
	return c, nil
}

func (s *PostgresStore) CreateCustomer(ctx context.Context, fields model.Candidate) (*model.Customer, error) {
	if err := validateInsert(fields); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	now := time.Now().UTC()
	sql, args := pgInsertCustomer(id, fields, now)

	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, eris.Wrap(ErrDuplicate, "postgres: insert customer")
		}
		return nil, eris.Wrap(err, "postgres: insert customer")
	}
	return s.mustGetCustomer(ctx, id)
}

func (s *PostgresStore) CreateCustomerWithStatus(ctx context.Context, fields model.Candidate, now time.Time) (*model.Customer, *model.Status, error) {
	if err := validateInsert(fields); err != nil {
		return nil, nil, err
	}
	id := uuid.New().String()
	st := model.NewInitialStatus(id, now)
	st.ID = uuid.New().String()
	st.CreatedAt = now.UTC()

	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		sql, args := pgInsertCustomer(id, fields, now.UTC())
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			if db.IsUniqueViolation(err) {
				return eris.Wrap(ErrDuplicate, "postgres: insert customer")
			}
			return eris.Wrap(err, "postgres: insert customer")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO statuses (id, customer_id, status, priority, status_updated_date, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			st.ID, st.CustomerID, st.Status, st.Priority, st.StatusUpdatedDate, st.CreatedAt,
		); err != nil {
			return eris.Wrap(err, "postgres: insert status")
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	c, err := s.mustGetCustomer(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return c, &st, nil
}

func (s *PostgresStore) UpdateCustomer(ctx context.Context, id string, fields model.Candidate) error {
	cols, vals := writableColumns(fields)
	if len(cols) == 0 {
		return nil
	}
	sql := fmt.Sprintf(`UPDATE customers SET %s, updated_at = $%d WHERE id = $%d`,
		db.SetClause(db.Dollar, 1, cols), len(cols)+1, len(cols)+2)
	args := append(vals, time.Now().UTC(), id)

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return eris.Wrapf(ErrDuplicate, "postgres: update customer %s", id)
		}
		return eris.Wrapf(err, "postgres: update customer %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("customer not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) CountCustomers(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count customers")
}

func (s *PostgresStore) GetStatus(ctx context.Context, customerID string) (*model.Status, error) {
	var st model.Status
	err := s.pool.QueryRow(ctx,
		`SELECT id, customer_id, status, priority, status_updated_date, created_at FROM statuses WHERE customer_id = $1`,
		customerID,
	).Scan(&st.ID, &st.CustomerID, &st.Status, &st.Priority, &st.StatusUpdatedDate, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get status %s", customerID)
	}
	return &st, nil
}

func (s *PostgresStore) CreateStatus(ctx context.Context, st model.Status) (*model.Status, error) {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	st.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO statuses (id, customer_id, status, priority, status_updated_date, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		st.ID, st.CustomerID, st.Status, st.Priority, st.StatusUpdatedDate, st.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, eris.Wrapf(ErrDuplicate, "postgres: insert status %s", st.CustomerID)
		}
		return nil, eris.Wrapf(err, "postgres: insert status %s", st.CustomerID)
	}
	return &st, nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, jobName string, data []byte) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkpoints (job_name, data, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (job_name) DO UPDATE SET data = $2, updated_at = $3`,
		jobName, data, now,
	)
	return eris.Wrap(err, "postgres: save checkpoint")
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, jobName string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.pool.QueryRow(ctx,
		`SELECT job_name, data, updated_at FROM checkpoints WHERE job_name = $1`,
		jobName,
	).Scan(&cp.JobName, &cp.Data, &cp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: load checkpoint")
	}
	return &cp, nil
}

func (s *PostgresStore) DeleteCheckpoint(ctx context.Context, jobName string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM checkpoints WHERE job_name = $1`,
		jobName,
	)
	return eris.Wrap(err, "postgres: delete checkpoint")
}

func (s *PostgresStore) mustGetCustomer(ctx context.Context, id string) (*model.Customer, error) {
	c, err := s.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, eris.Errorf("customer not found: %s", id)
	}
	return c, nil
}

func pgInsertCustomer(id string, fields model.Candidate, now time.Time) (string, []any) {
	cols, vals := writableColumns(fields)
	allCols := append([]string{"id"}, cols...)
	allCols = append(allCols, "created_at", "updated_at")
	args := append([]any{id}, vals...)
	args = append(args, now, now)

	sql := fmt.Sprintf(`INSERT INTO customers (%s) VALUES (%s)`,
		db.QuoteAndJoin(allCols), db.Placeholders(db.Dollar, 1, len(allCols)))
	return sql, args
}

func scanPgCustomer(row pgx.Row) (*model.Customer, error) {
	var c model.Customer
	err := row.Scan(
		&c.ID, &c.Name, &c.Furigana, &c.Gender, &c.Age, &c.PhoneNumber, &c.Email, &c.Address,
		&c.CurrentCompany, &c.CurrentJobType, &c.CurrentSalary, &c.DesiredJobType,
		&c.DesiredIndustry, &c.DesiredSalary, &c.DesiredLocation, &c.DesiredStartTiming,
		&c.DriverLicense, &c.Media, &c.Route, &c.InflowDate, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
