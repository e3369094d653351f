package account

import "time"

type Role string

const (
	RoleAdmin Role = "Admin"
	RoleUser  Role = "User"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

type Account struct {
	ID                  string
	Email               string
	PasswordHash        string
	FirstName           string
	LastName            string
	Role                Role
	VerificationToken   string
	VerifiedAt          *time.Time
	ResetToken          string
	ResetTokenExpiresAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (a Account) Verified() bool {
	return a.VerifiedAt != nil
}

// Projection is the only account shape that leaves the service.
// Password hashes and verification/reset tokens are never serialized.
type Projection struct {
	ID        string    `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
}

func (a Account) Project() Projection {
	return Projection{
		ID:        a.ID,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Email:     a.Email,
		Role:      a.Role,
		Created:   a.CreatedAt,
		Updated:   a.UpdatedAt,
	}
}

type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

type CreateInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Role      Role
}

// UpdateInput enumerates the only fields an update may touch. A nil
// field leaves the stored value untouched.
type UpdateInput struct {
	FirstName *string
	LastName  *string
	Email     *string
	Password  *string
	Role      *Role
}
