package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/syncstack/crm-connector/internal/domain"
)

var ErrSessionInvalid = errors.New("session is no longer valid")

// Connection is a live, cached handle to one of the CRM API surfaces.
type Connection interface {
	ApiType() domain.ApiType
	OrgType() domain.OrgType
	Close() error
}

// ConnectionFactory hands out one live connection per org type, creating it
// on first use and recreating it after invalidation.
type ConnectionFactory interface {
	GetConnection(ctx context.Context, orgType domain.OrgType) (Connection, error)
	ClearConnection(orgType domain.OrgType)
}

type ConnectionCreationError struct {
	ApiType domain.ApiType
	OrgType domain.OrgType
	Err     error
}

func (e *ConnectionCreationError) Error() string {
	return fmt.Sprintf("unable to create %s connection for org %s: %s", e.ApiType, e.OrgType, e.Err)
}

func (e *ConnectionCreationError) Unwrap() error {
	return e.Err
}
