package account

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusBlocked Status = "blocked"
)

// Account is created by the identity service at registration and never deleted.
type Account struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Status    Status    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}
