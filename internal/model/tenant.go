package model

import "time"

// Tenant is a handbook: the unit of billing and access control.
// A nil TrialEndDate means the handbook is paid (or never trialed).
type Tenant struct {
	ID                 string     `db:"id" json:"id"`
	OwnerID            string     `db:"owner_id" json:"owner_id"`
	Title              string     `db:"title" json:"title"`
	TrialEndDate       *time.Time `db:"trial_end_date" json:"trial_end_date"`
	CreatedDuringTrial bool       `db:"created_during_trial" json:"created_during_trial"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// InTrial reports whether the tenant still carries a trial record.
func (t *Tenant) InTrial() bool {
	return t.TrialEndDate != nil
}

// Role is a caller's relation to a tenant.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	RoleNone   Role = ""
)

// Privileged roles see owner-only billing fields.
func (r Role) Privileged() bool {
	return r == RoleOwner || r == RoleAdmin
}
