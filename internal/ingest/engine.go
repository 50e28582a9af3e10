// Package ingest writes extracted candidates into the customer store.
//
// Two entry points exist and deliberately disagree on repeat emails:
// IngestOne (webhook) reports a conflict and writes nothing, while
// IngestOrUpdate (batch) patches the existing customer according to a
// Policy.
package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/candidate-intake/internal/model"
	"github.com/sells-group/candidate-intake/internal/store"
)

// Policy selects which fields the batch path writes onto an existing customer.
type Policy string

const (
	// PolicyProvenance updates inflow_date and media only.
	PolicyProvenance Policy = "provenance"
	// PolicyAll patches every present field; absent fields are left as stored.
	PolicyAll Policy = "all"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyProvenance, PolicyAll:
		return Policy(s), nil
	case "":
		return PolicyProvenance, nil
	}
	return "", eris.Errorf("ingest: unknown update policy %q", s)
}

// Result describes the effect of one ingestion.
type Result struct {
	Outcome    model.Outcome   `json:"outcome"`
	CustomerID string          `json:"customer_id,omitempty"`
	Candidate  model.Candidate `json:"candidate,omitempty"`
}

// Engine performs the customer + status writes.
type Engine struct {
	store store.Store
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for status_updated_date.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over st.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{store: st, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(e)
	}
	return e
}

// IngestOne is the strict path. It returns *ValidationError when name or
// email is missing, *ConflictError when the email is already known, and
// otherwise inserts the customer and its initial status in one transaction.
func (e *Engine) IngestOne(ctx context.Context, c model.Candidate) (*Result, error) {
	if missing := c.Missing(); len(missing) > 0 {
		return nil, &ValidationError{Missing: missing, Partial: c}
	}
	email := c.Email()

	existing, err := e.store.FindCustomerByEmail(ctx, email)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: find customer")
	}
	if existing != nil {
		return nil, &ConflictError{CustomerID: existing.ID, Email: email}
	}

	cust, _, err := e.store.CreateCustomerWithStatus(ctx, c, e.now())
	if eris.Is(err, store.ErrDuplicate) {
		// Lost a race with a concurrent insert of the same email.
		if winner, findErr := e.store.FindCustomerByEmail(ctx, email); findErr == nil && winner != nil {
			return nil, &ConflictError{CustomerID: winner.ID, Email: email}
		}
	}
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create customer")
	}

	zap.L().Info("ingest: customer created",
		zap.String("customer_id", cust.ID),
		zap.String("email", email),
	)
	return &Result{Outcome: model.OutcomeCreated, CustomerID: cust.ID, Candidate: c}, nil
}

// IngestOrUpdate is the batch path. An existing customer is patched
// according to policy and reported as Updated, or Skipped when there is
// nothing to write. A new customer is inserted first and its status
// created afterwards, only if none exists yet; the two writes are separate
// calls so a previous partial run may already have created the status.
func (e *Engine) IngestOrUpdate(ctx context.Context, c model.Candidate, policy Policy) (*Result, error) {
	if missing := c.Missing(); len(missing) > 0 {
		return nil, &ValidationError{Missing: missing, Partial: c}
	}
	email := c.Email()

	existing, err := e.store.FindCustomerByEmail(ctx, email)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: find customer")
	}
	if existing != nil {
		return e.update(ctx, existing, c, policy)
	}

	cust, err := e.store.CreateCustomer(ctx, c)
	if eris.Is(err, store.ErrDuplicate) {
		winner, findErr := e.store.FindCustomerByEmail(ctx, email)
		if findErr != nil {
			return nil, eris.Wrap(findErr, "ingest: find customer after duplicate")
		}
		if winner != nil {
			return e.update(ctx, winner, c, policy)
		}
	}
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create customer")
	}

	if err := e.ensureStatus(ctx, cust.ID); err != nil {
		return nil, err
	}

	zap.L().Info("ingest: customer created",
		zap.String("customer_id", cust.ID),
		zap.String("email", email),
		zap.String("policy", string(policy)),
	)
	return &Result{Outcome: model.OutcomeCreated, CustomerID: cust.ID, Candidate: c}, nil
}

func (e *Engine) update(ctx context.Context, existing *model.Customer, c model.Candidate, policy Policy) (*Result, error) {
	fields := UpdateFields(c, policy)
	if len(fields) == 0 {
		return &Result{Outcome: model.OutcomeSkipped, CustomerID: existing.ID, Candidate: c}, nil
	}
	if err := e.store.UpdateCustomer(ctx, existing.ID, fields); err != nil {
		return nil, eris.Wrapf(err, "ingest: update customer %s", existing.ID)
	}
	if err := e.ensureStatus(ctx, existing.ID); err != nil {
		return nil, err
	}

	zap.L().Debug("ingest: customer updated",
		zap.String("customer_id", existing.ID),
		zap.Strings("fields", fields.Keys()),
		zap.String("policy", string(policy)),
	)
	return &Result{Outcome: model.OutcomeUpdated, CustomerID: existing.ID, Candidate: c}, nil
}

// ensureStatus creates the initial status unless one already exists. An
// existing status is never modified.
func (e *Engine) ensureStatus(ctx context.Context, customerID string) error {
	st, err := e.store.GetStatus(ctx, customerID)
	if err != nil {
		return eris.Wrapf(err, "ingest: get status %s", customerID)
	}
	if st != nil {
		return nil
	}
	_, err = e.store.CreateStatus(ctx, model.NewInitialStatus(customerID, e.now()))
	if eris.Is(err, store.ErrDuplicate) {
		return nil
	}
	return eris.Wrapf(err, "ingest: create status %s", customerID)
}

// UpdateFields returns the subset of c the batch path writes onto an
// existing customer under policy. Email is the lookup key and never
// rewritten.
func UpdateFields(c model.Candidate, policy Policy) model.Candidate {
	if policy == PolicyAll {
		fields := c.Columns()
		delete(fields, model.FieldEmail)
		return fields
	}
	return c.Only(model.ProvenanceFields...)
}
