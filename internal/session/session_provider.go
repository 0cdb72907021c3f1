package session

import (
	"context"

	"github.com/syncstack/crm-connector/internal/domain"
)

// SessionProvider supplies the access token and instance URL used to build
// API connections for an org.
type SessionProvider interface {
	GetAccessToken(ctx context.Context, orgType domain.OrgType) (string, error)
	GetInstanceUrl(ctx context.Context, orgType domain.OrgType) (string, error)
	IsSessionValid(orgType domain.OrgType) bool
	InvalidateSession(orgType domain.OrgType)
}
