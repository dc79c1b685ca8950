package user

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleRep     Role = "REP"
)

// NormalizeRole maps any stored or requested role string onto the closed role set.
// Unknown values fall back to RoleRep.
func NormalizeRole(s string) Role {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ADMIN", "SUPER_ADMIN", "SUPERADMIN", "OWNER":
		return RoleAdmin
	case "MANAGER", "SALES_MANAGER", "DEALER_MANAGER":
		return RoleManager
	default:
		return RoleRep
	}
}

func (r Role) IsAdmin() bool { return r == RoleAdmin }

// AtLeast reports whether r grants every permission of min.
func (r Role) AtLeast(min Role) bool { return r.rank() >= min.rank() }

func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleManager:
		return 2
	case RoleRep:
		return 1
	default:
		return 0
	}
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	PhoneNumber  string    `json:"phoneNumber,omitempty"`
	Role         Role      `json:"role"`
	TenantID     string    `json:"tenantId"`
	Deleted      bool      `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Active reports whether the principal may hold a session.
func (u *User) Active() bool { return u != nil && !u.Deleted }
