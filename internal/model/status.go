package model

import "time"

// Initial pipeline values assigned when a customer is first ingested.
const (
	InitialStatus   = "untouched"
	InitialPriority = "medium"
)

// Status is the 1:1 pipeline-stage companion of a Customer. Ingestion only
// ever creates it; later stages belong to the CRM workflows.
type Status struct {
	ID                string    `json:"id"`
	CustomerID        string    `json:"customer_id"`
	Status            string    `json:"status"`
	Priority          string    `json:"priority"`
	StatusUpdatedDate time.Time `json:"status_updated_date"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewInitialStatus builds the status row written alongside a new customer.
func NewInitialStatus(customerID string, now time.Time) Status {
	return Status{
		CustomerID:        customerID,
		Status:            InitialStatus,
		Priority:          InitialPriority,
		StatusUpdatedDate: now,
	}
}
