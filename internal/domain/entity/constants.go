package entity

// Claim status constants
const (
	StatusDraft     = "DRAFT"
	StatusSubmitted = "SUBMITTED"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
)

// Approval action constants recorded in a claim's history
const (
	ActionSubmitted = "SUBMITTED"
	ActionApproved  = "APPROVED"
	ActionRejected  = "REJECTED"
)

// Expense category constants
const (
	CategoryTravel        = "TRAVEL"
	CategoryMeal          = "MEAL"
	CategoryAccommodation = "ACCOMMODATION"
	CategoryEquipment     = "EQUIPMENT"
	CategoryTransport     = "TRANSPORTATION"
	CategoryEntertainment = "ENTERTAINMENT"
	CategoryOther         = "OTHER"
)

// User role constants
const (
	RoleEmployee = "EMPLOYEE"
	RoleManager  = "MANAGER"
	RoleAdmin    = "ADMIN"
)

// Notification kind constants
const (
	NotificationApproverAssigned = "APPROVER_ASSIGNED"
	NotificationClaimApproved    = "CLAIM_APPROVED"
	NotificationClaimRejected    = "CLAIM_REJECTED"
	NotificationPolicyStuck      = "POLICY_STUCK"
)

// Notification status constants
const (
	NotificationStatusPending = "PENDING"
	NotificationStatusSent    = "SENT"
	NotificationStatusFailed  = "FAILED"
)

var validCategories = map[string]bool{
	CategoryTravel:        true,
	CategoryMeal:          true,
	CategoryAccommodation: true,
	CategoryEquipment:     true,
	CategoryTransport:     true,
	CategoryEntertainment: true,
	CategoryOther:         true,
}

// IsValidCategory reports whether c is a known expense category
func IsValidCategory(c string) bool {
	return validCategories[c]
}

// IsTerminalStatus reports whether no further transitions are possible from status
func IsTerminalStatus(status string) bool {
	return status == StatusApproved || status == StatusRejected
}
