package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/candidate-intake/internal/db"
	"github.com/sells-group/candidate-intake/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS customers (
	id                   TEXT PRIMARY KEY,
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
	inflow_date          DATETIME,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_email ON customers (lower(email));
CREATE INDEX IF NOT EXISTS idx_customers_inflow_date ON customers (inflow_date);

CREATE TABLE IF NOT EXISTS statuses (
	id                  TEXT PRIMARY KEY,
	customer_id         TEXT NOT NULL UNIQUE REFERENCES customers(id) ON DELETE CASCADE,
	status              TEXT NOT NULL,
	priority            TEXT NOT NULL,
	status_updated_date DATETIME NOT NULL,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS checkpoints (
	job_name   TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FindCustomerByEmail(ctx context.Context, email string) (*model.Customer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+customerSelect+` FROM customers WHERE lower(email) = ? LIMIT 1`,
		model.NormalizeEmail(email),
	)
	c, err := scanCustomer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find customer by email")
	}
	return c, nil
}

func (s *SQLiteStore) GetCustomer(ctx context.Context, id string) (*model.Customer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+customerSelect+` FROM customers WHERE id = ?`,
		id,
	)
	c, err := scanCustomer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get customer %s", id)
	}
	return c, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) CreateCustomer(ctx context.Context, fields model.Candidate) (*model.Customer, error) {
	if err := validateInsert(fields); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	if err := insertCustomer(ctx, s.db, id, fields, time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.mustGetCustomer(ctx, id)
}

func (s *SQLiteStore) CreateCustomerWithStatus(ctx context.Context, fields model.Candidate, now time.Time) (*model.Customer, *model.Status, error) {
	if err := validateInsert(fields); err != nil {
		return nil, nil, err
	}
	id := uuid.New().String()
	st := model.NewInitialStatus(id, now.UTC())
	st.ID = uuid.New().String()
	st.CreatedAt = now.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertCustomer(ctx, tx, id, fields, now.UTC()); err != nil {
		return nil, nil, err
	}
	if err := insertStatus(ctx, tx, st); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: commit tx")
	}

	c, err := s.mustGetCustomer(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return c, &st, nil
}

func (s *SQLiteStore) UpdateCustomer(ctx context.Context, id string, fields model.Candidate) error {
	cols, vals := writableColumns(fields)
	if len(cols) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE customers SET %s, updated_at = ? WHERE id = ?`,
		db.SetClause(db.Question, 1, cols))
	args := append(vals, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isSQLiteUnique(err) {
			return eris.Wrapf(ErrDuplicate, "sqlite: update customer %s", id)
		}
		return eris.Wrapf(err, "sqlite: update customer %s", id)
	}
	return checkRowsAffected(res, "customer", id)
}

func (s *SQLiteStore) CountCustomers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count customers")
}

// CountStatuses returns how many status rows exist for a customer.
func (s *SQLiteStore) CountStatuses(ctx context.Context, customerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM statuses WHERE customer_id = ?`, customerID).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count statuses")
}

func (s *SQLiteStore) GetStatus(ctx context.Context, customerID string) (*model.Status, error) {
	var st model.Status
	err := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, status, priority, status_updated_date, created_at FROM statuses WHERE customer_id = ?`,
		customerID,
	).Scan(&st.ID, &st.CustomerID, &st.Status, &st.Priority, &st.StatusUpdatedDate, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get status %s", customerID)
	}
	return &st, nil
}

func (s *SQLiteStore) CreateStatus(ctx context.Context, st model.Status) (*model.Status, error) {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	st.CreatedAt = time.Now().UTC()
	if err := insertStatus(ctx, s.db, st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, jobName string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (job_name, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (job_name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		jobName, string(data), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save checkpoint")
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, jobName string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT job_name, data, updated_at FROM checkpoints WHERE job_name = ?`,
		jobName,
	).Scan(&cp.JobName, &data, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load checkpoint")
	}
	cp.Data = []byte(data)
	return &cp, nil
}

func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, jobName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE job_name = ?`, jobName)
	return eris.Wrap(err, "sqlite: delete checkpoint")
}

func (s *SQLiteStore) mustGetCustomer(ctx context.Context, id string) (*model.Customer, error) {
	c, err := s.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, eris.Errorf("customer not found: %s", id)
	}
	return c, nil
}

// helpers

func insertCustomer(ctx context.Context, ex execer, id string, fields model.Candidate, now time.Time) error {
	cols, vals := writableColumns(fields)
	allCols := append([]string{"id"}, cols...)
	allCols = append(allCols, "created_at", "updated_at")
	args := append([]any{id}, vals...)
	args = append(args, now, now)

	query := fmt.Sprintf(`INSERT INTO customers (%s) VALUES (%s)`,
		db.QuoteAndJoin(allCols), db.Placeholders(db.Question, 1, len(allCols)))
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		if isSQLiteUnique(err) {
			return eris.Wrap(ErrDuplicate, "sqlite: insert customer")
		}
		return eris.Wrap(err, "sqlite: insert customer")
	}
	return nil
}

func insertStatus(ctx context.Context, ex execer, st model.Status) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO statuses (id, customer_id, status, priority, status_updated_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID, st.CustomerID, st.Status, st.Priority, st.StatusUpdatedDate, st.CreatedAt,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return eris.Wrapf(ErrDuplicate, "sqlite: insert status %s", st.CustomerID)
		}
		return eris.Wrapf(err, "sqlite: insert status %s", st.CustomerID)
	}
	return nil
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCustomer(row scannable) (*model.Customer, error) {
	var (
		c                                                  model.Customer
		furigana, gender, phone, address, curCompany       sql.NullString
		curJob, desJob, desIndustry, desLocation, desStart sql.NullString
		media, route                                       sql.NullString
		age, curSalary, desSalary                          sql.NullInt64
		license                                            sql.NullBool
		inflow                                             sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.Name, &furigana, &gender, &age, &phone, &c.Email, &address,
		&curCompany, &curJob, &curSalary, &desJob,
		&desIndustry, &desSalary, &desLocation, &desStart,
		&license, &media, &route, &inflow, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Furigana = nullString(furigana)
	c.Gender = nullString(gender)
	c.Age = nullInt(age)
	c.PhoneNumber = nullString(phone)
	c.Address = nullString(address)
	c.CurrentCompany = nullString(curCompany)
	c.CurrentJobType = nullString(curJob)
	c.CurrentSalary = nullInt(curSalary)
	c.DesiredJobType = nullString(desJob)
	c.DesiredIndustry = nullString(desIndustry)
	c.DesiredSalary = nullInt(desSalary)
	c.DesiredLocation = nullString(desLocation)
	c.DesiredStartTiming = nullString(desStart)
	if license.Valid {
		v := license.Bool
		c.DriverLicense = &v
	}
	c.Media = nullString(media)
	c.Route = nullString(route)
	if inflow.Valid {
		t := inflow.Time
		c.InflowDate = &t
	}
	return &c, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	n := int(ni.Int64)
	return &n
}
