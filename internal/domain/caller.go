package domain

type Role string

const (
	RoleReporter   Role = "reporter"
	RoleGovernance Role = "governance"
)

// Caller identifies who submits an operation. ID is the reporter id used for
// stake lookups, commitment keys and dedup.
type Caller struct {
	ID   string
	Role Role
}
