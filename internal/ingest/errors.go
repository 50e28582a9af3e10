package ingest

import (
	"fmt"
	"strings"

	"github.com/sells-group/candidate-intake/internal/model"
)

// ValidationError reports a candidate missing its required fields. Partial
// holds whatever was extracted so callers can show it for diagnosis.
type ValidationError struct {
	Missing []string
	Partial model.Candidate
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ingest: missing required fields: %s", strings.Join(e.Missing, ", "))
}

// ConflictError reports that a customer with the same email already exists
// on the strict path.
type ConflictError struct {
	CustomerID string
	Email      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ingest: customer %s already exists for %s", e.CustomerID, e.Email)
}
