package entity

import "time"

// Company is a tenant with its reporting currency and optional fallback approver.
type Company struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	CurrencyCode      string    `json:"currency_code"`
	DefaultApproverID string    `json:"default_approver_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// User is a member of a company.
type User struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// IsAdmin reports whether the user administers their company
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
