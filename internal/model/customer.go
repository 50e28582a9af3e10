package model

import (
	"sort"
	"strings"
	"time"
)

// Customer column names. Candidate keys use the same names so an extracted
// candidate can be written to the store without a mapping step.
const (
	FieldName               = "name"
	FieldFurigana           = "furigana"
	FieldGender             = "gender"
	FieldAge                = "age"
	FieldPhoneNumber        = "phone_number"
	FieldEmail              = "email"
	FieldAddress            = "address"
	FieldCurrentCompany     = "current_company"
	FieldCurrentJobType     = "current_job_type"
	FieldCurrentSalary      = "current_salary"
	FieldDesiredJobType     = "desired_job_type"
	FieldDesiredIndustry    = "desired_industry"
	FieldDesiredSalary      = "desired_salary"
	FieldDesiredLocation    = "desired_location"
	FieldDesiredStartTiming = "desired_start_timing"
	FieldDriverLicense      = "driver_license"
	FieldMedia              = "media"
	FieldRoute              = "route"
	FieldInflowDate         = "inflow_date"
)

// CustomerColumns lists every writable customer column in schema order.
var CustomerColumns = []string{
	FieldName,
	FieldFurigana,
	FieldGender,
	FieldAge,
	FieldPhoneNumber,
	FieldEmail,
	FieldAddress,
	FieldCurrentCompany,
	FieldCurrentJobType,
	FieldCurrentSalary,
	FieldDesiredJobType,
	FieldDesiredIndustry,
	FieldDesiredSalary,
	FieldDesiredLocation,
	FieldDesiredStartTiming,
	FieldDriverLicense,
	FieldMedia,
	FieldRoute,
	FieldInflowDate,
}

// ProvenanceFields are the columns the batch path refreshes on an existing
// customer when running with the provenance-only update policy.
var ProvenanceFields = []string{FieldInflowDate, FieldMedia}

var customerColumnSet = func() map[string]bool {
	m := make(map[string]bool, len(CustomerColumns))
	for _, c := range CustomerColumns {
		m[c] = true
	}
	return m
}()

// IsCustomerColumn reports whether name is a writable customer column.
func IsCustomerColumn(name string) bool {
	return customerColumnSet[name]
}

// Customer is a lead/candidate record. Optional attributes are pointers so
// that "unknown" and "empty" stay distinguishable.
type Customer struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Furigana           *string    `json:"furigana,omitempty"`
	Gender             *string    `json:"gender,omitempty"`
	Age                *int       `json:"age,omitempty"`
	PhoneNumber        *string    `json:"phone_number,omitempty"`
	Email              string     `json:"email"`
	Address            *string    `json:"address,omitempty"`
	CurrentCompany     *string    `json:"current_company,omitempty"`
	CurrentJobType     *string    `json:"current_job_type,omitempty"`
	CurrentSalary      *int       `json:"current_salary,omitempty"`
	DesiredJobType     *string    `json:"desired_job_type,omitempty"`
	DesiredIndustry    *string    `json:"desired_industry,omitempty"`
	DesiredSalary      *int       `json:"desired_salary,omitempty"`
	DesiredLocation    *string    `json:"desired_location,omitempty"`
	DesiredStartTiming *string    `json:"desired_start_timing,omitempty"`
	DriverLicense      *bool      `json:"driver_license,omitempty"`
	Media              *string    `json:"media,omitempty"`
	Route              *string    `json:"route,omitempty"`
	InflowDate         *time.Time `json:"inflow_date,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Candidate is the ephemeral field set produced for one email. It only holds
// the fields that were actually found; absent keys are never defaulted.
// Values are string, int, bool or time.Time.
type Candidate map[string]any

// RequiredFields must be present before a candidate can be written.
var RequiredFields = []string{FieldName, FieldEmail}

// String returns the string value for key, or "" if absent or not a string.
func (c Candidate) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Has reports whether key is present with a non-empty value.
func (c Candidate) Has(key string) bool {
	v, ok := c[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// Missing returns the required fields absent from the candidate.
func (c Candidate) Missing() []string {
	var missing []string
	for _, f := range RequiredFields {
		if !c.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Email returns the normalized dedup key (lower-cased, trimmed).
func (c Candidate) Email() string {
	return NormalizeEmail(c.String(FieldEmail))
}

// Only returns a copy restricted to the given keys.
func (c Candidate) Only(keys ...string) Candidate {
	out := make(Candidate, len(keys))
	for _, k := range keys {
		if c.Has(k) {
			out[k] = c[k]
		}
	}
	return out
}

// Columns returns a copy holding only writable customer columns with
// non-empty values.
func (c Candidate) Columns() Candidate {
	out := make(Candidate, len(c))
	for k, v := range c {
		if IsCustomerColumn(k) && c.Has(k) {
			out[k] = v
		}
	}
	if e, ok := out[FieldEmail]; ok {
		if s, isStr := e.(string); isStr {
			out[FieldEmail] = NormalizeEmail(s)
		}
	}
	return out
}

// Keys returns the candidate's keys in CustomerColumns order, followed by
// any non-column keys sorted alphabetically.
func (c Candidate) Keys() []string {
	keys := make([]string, 0, len(c))
	for _, col := range CustomerColumns {
		if _, ok := c[col]; ok {
			keys = append(keys, col)
		}
	}
	var extra []string
	for k := range c {
		if !IsCustomerColumn(k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

// NormalizeEmail lower-cases and trims an address for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
