package roster

import (
	"time"

	"github.com/google/uuid"
)

// Term is a labelled period such as "Fall 2025". At most one term is active.
type Term struct {
	ID        uuid.UUID `json:"id"`
	Label     string    `json:"label"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActivationCounts summarizes is_active across all accounts after a run.
type ActivationCounts struct {
	TotalAccounts int64 `json:"total_accounts"`
	Activated     int64 `json:"activated"`
	Deactivated   int64 `json:"deactivated"`
}

// Page is one page of accounts ordered by school id.
type Page struct {
	Accounts []Account `json:"accounts"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	Total    int64     `json:"total"`
}
