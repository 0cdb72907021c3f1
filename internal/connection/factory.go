package connection

import (
	"context"
	"sync"

	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/platform/logger"
	"github.com/syncstack/crm-connector/internal/session"

	"github.com/sirupsen/logrus"
)

type createConnectionFunc func(ctx context.Context, orgType domain.OrgType) (Connection, error)

// cachingConnectionFactory caches one live connection per org type.  The
// factory mutex guards the check-then-create sequence, so at most one
// createConnection call is in flight at a time.  Creation is rare enough
// that serializing it across org types has not been worth striping.
type cachingConnectionFactory struct {
	apiType         domain.ApiType
	sessionProvider session.SessionProvider
	create          createConnectionFunc

	lock        sync.Mutex
	connections map[domain.OrgType]Connection
}

func newCachingConnectionFactory(apiType domain.ApiType, sessionProvider session.SessionProvider, create createConnectionFunc) *cachingConnectionFactory {
	return &cachingConnectionFactory{
		apiType:         apiType,
		sessionProvider: sessionProvider,
		create:          create,
		connections:     make(map[domain.OrgType]Connection),
	}
}

func (f *cachingConnectionFactory) GetConnection(ctx context.Context, orgType domain.OrgType) (Connection, error) {

	f.lock.Lock()
	defer f.lock.Unlock()

	conn, exists := f.connections[orgType]

	if exists && f.sessionProvider.IsSessionValid(orgType) == false {
		logger.Log.WithFields(logrus.Fields{"api_type": f.apiType, "org_type": orgType}).Info("Session invalidated, evicting cached connection")
		f.evict(orgType)
		exists = false
	}

	if exists {
		return conn, nil
	}

	conn, err := f.create(ctx, orgType)
	if err != nil {
		// leave the cache empty so the next caller retries creation
		return nil, &ConnectionCreationError{ApiType: f.apiType, OrgType: orgType, Err: err}
	}

	f.connections[orgType] = conn

	logger.Log.WithFields(logrus.Fields{"api_type": f.apiType, "org_type": orgType}).Info("Created a new connection")

	return conn, nil
}

func (f *cachingConnectionFactory) ClearConnection(orgType domain.OrgType) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.evict(orgType)
}

func (f *cachingConnectionFactory) evict(orgType domain.OrgType) {
	conn, exists := f.connections[orgType]
	if exists == false {
		return
	}

	delete(f.connections, orgType)

	if err := conn.Close(); err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err, "api_type": f.apiType, "org_type": orgType}).Warn("Error closing evicted connection")
	}
}
