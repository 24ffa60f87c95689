package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrExists is returned when registering a tenant identity that is taken.
var ErrExists = errors.New("already exists")

// Message roles. Appended messages are immutable; "human" and "assistant"
// are the only roles the schema accepts.
const (
	RoleHuman     = "human"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry in a tenant's durable conversation log.
type ChatMessage struct {
	ID        int64
	TenantID  string
	Role      string
	Content   string
	CreatedAt time.Time
}

// MaintenanceRequest is a maintenance ticket filed by a tenant.
type MaintenanceRequest struct {
	RequestID   int64
	TenantID    string
	Location    string
	Description string
	Status      string
	Priority    string
	CreatedAt   time.Time
}

// Feedback is a thumbs-up/down rating a tenant left on a bot response.
type Feedback struct {
	ID        int64
	TenantID  string
	Query     string
	Response  string
	Rating    int // 1 or -1
	Comment   string
	CreatedAt time.Time
}

// User is a registered tenant. MonthlyRent and RentDueDay feed the reminder
// job; both are unknown until a contract is uploaded or set explicitly.
type User struct {
	TenantID    string
	UserName    string
	MonthlyRent *float64
	RentDueDay  *int
	CreatedAt   time.Time
}

// ContractSummary holds structured fields extracted from an uploaded
// contract. Every field is optional: extraction failure yields an all-null
// summary without invalidating the index.
type ContractSummary struct {
	MonthlyRent     *float64 `json:"monthly_rent"`
	SecurityDeposit *float64 `json:"security_deposit"`
	LeaseStartDate  string   `json:"lease_start_date,omitempty"`
	LeaseEndDate    string   `json:"lease_end_date,omitempty"`
	TenantName      string   `json:"tenant_name,omitempty"`
	LandlordName    string   `json:"landlord_name,omitempty"`
}

// IsZero reports whether no field of the summary was extracted.
func (s ContractSummary) IsZero() bool {
	return s.MonthlyRent == nil && s.SecurityDeposit == nil &&
		s.LeaseStartDate == "" && s.LeaseEndDate == "" &&
		s.TenantName == "" && s.LandlordName == ""
}
