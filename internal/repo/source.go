package repo

import (
	"context"
	"errors"

	"memberportal/internal/models"
)

// ErrBackendUnavailable marks network-level failures against the upstream
// backend. The fallbacking repository converts it into the local path; it
// never reaches API callers.
var ErrBackendUnavailable = errors.New("backend unavailable")

// Decision is the terminal transition applied to a pending application.
// Exactly one of Username (approval) or Reason (rejection) is set.
type Decision struct {
	Status   models.ApplicationStatus
	Username string
	Reason   string
}

// DataSource is one authoritative store for applications and user records.
// Implementations surface store.ErrNotFound / store.ErrConflict for business
// failures and ErrBackendUnavailable for reachability failures.
type DataSource interface {
	ListApplications(ctx context.Context, status string, limit, offset int) ([]models.Application, error)
	GetApplication(ctx context.Context, id string) (models.Application, error)
	CreateApplication(ctx context.Context, in models.NewApplication) (models.Application, error)
	DecideApplication(ctx context.Context, id string, d Decision) (models.Application, error)
	DeleteApplication(ctx context.Context, id string) error
	CreateUser(ctx context.Context, u models.User) (models.User, error)
}
