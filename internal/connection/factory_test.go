package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/platform/logger"
)

func init() {
	logger.InitLogger()
}

type fakeSessionProvider struct {
	valid atomic.Bool
}

func (sp *fakeSessionProvider) GetAccessToken(ctx context.Context, orgType domain.OrgType) (string, error) {
	return "token", nil
}

func (sp *fakeSessionProvider) GetInstanceUrl(ctx context.Context, orgType domain.OrgType) (string, error) {
	return "https://example.my.crm.test", nil
}

func (sp *fakeSessionProvider) IsSessionValid(orgType domain.OrgType) bool {
	return sp.valid.Load()
}

func (sp *fakeSessionProvider) InvalidateSession(orgType domain.OrgType) {
}

type fakeConnection struct {
	orgType domain.OrgType
	closed  atomic.Bool
}

func (c *fakeConnection) ApiType() domain.ApiType {
	return domain.ApiTypeRest
}

func (c *fakeConnection) OrgType() domain.OrgType {
	return c.orgType
}

func (c *fakeConnection) Close() error {
	c.closed.Store(true)
	return nil
}

func newCountingFactory(sp *fakeSessionProvider, createCount *atomic.Int32) *cachingConnectionFactory {
	return newCachingConnectionFactory(domain.ApiTypeRest, sp,
		func(ctx context.Context, orgType domain.OrgType) (Connection, error) {
			createCount.Add(1)
			return &fakeConnection{orgType: orgType}, nil
		})
}

func TestConcurrentGetConnectionCreatesOneConnection(t *testing.T) {
	sessionProvider := &fakeSessionProvider{}
	sessionProvider.valid.Store(true)

	var createCount atomic.Int32
	factory := newCountingFactory(sessionProvider, &createCount)

	var wg sync.WaitGroup
	connections := make([]Connection, 20)

	for i := 0; i < len(connections); i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			conn, err := factory.GetConnection(context.TODO(), "production")
			if err != nil {
				t.Errorf("Expected no error, got %s", err)
				return
			}
			connections[slot] = conn
		}(i)
	}

	wg.Wait()

	if createCount.Load() != 1 {
		t.Fatalf("Expected exactly one connection creation, got %d", createCount.Load())
	}

	for i := 1; i < len(connections); i++ {
		if connections[i] != connections[0] {
			t.Fatalf("Expected all callers to converge on the same cached connection")
		}
	}
}

func TestGetConnectionCachesPerOrgType(t *testing.T) {
	sessionProvider := &fakeSessionProvider{}
	sessionProvider.valid.Store(true)

	var createCount atomic.Int32
	factory := newCountingFactory(sessionProvider, &createCount)

	productionConn, err := factory.GetConnection(context.TODO(), "production")
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	sandboxConn, err := factory.GetConnection(context.TODO(), "sandbox")
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	if productionConn == sandboxConn {
		t.Fatalf("Expected distinct connections per org type")
	}

	if createCount.Load() != 2 {
		t.Fatalf("Expected two connection creations, got %d", createCount.Load())
	}
}

func TestGetConnectionEvictsOnInvalidSession(t *testing.T) {
	sessionProvider := &fakeSessionProvider{}
	sessionProvider.valid.Store(true)

	var createCount atomic.Int32
	factory := newCountingFactory(sessionProvider, &createCount)

	firstConn, err := factory.GetConnection(context.TODO(), "production")
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	sessionProvider.valid.Store(false)

	secondConn, err := factory.GetConnection(context.TODO(), "production")
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	if firstConn == secondConn {
		t.Fatalf("Expected a new connection after session invalidation")
	}

	if firstConn.(*fakeConnection).closed.Load() != true {
		t.Fatalf("Expected the evicted connection to be closed")
	}

	if createCount.Load() != 2 {
		t.Fatalf("Expected two connection creations, got %d", createCount.Load())
	}
}

func TestGetConnectionCreationFailureLeavesCacheEmpty(t *testing.T) {
	sessionProvider := &fakeSessionProvider{}
	sessionProvider.valid.Store(true)

	var createCount atomic.Int32
	creationError := errors.New("endpoint unreachable")

	factory := newCachingConnectionFactory(domain.ApiTypeRest, sessionProvider,
		func(ctx context.Context, orgType domain.OrgType) (Connection, error) {
			if createCount.Add(1) == 1 {
				return nil, creationError
			}
			return &fakeConnection{orgType: orgType}, nil
		})

	_, err := factory.GetConnection(context.TODO(), "production")
	if err == nil {
		t.Fatalf("Expected an error from the failed creation")
	}

	var creationErr *ConnectionCreationError
	if errors.As(err, &creationErr) == false {
		t.Fatalf("Expected a ConnectionCreationError, got %T", err)
	}

	if errors.Is(err, creationError) == false {
		t.Fatalf("Expected the original cause to be wrapped")
	}

	// the next call retries creation
	_, err = factory.GetConnection(context.TODO(), "production")
	if err != nil {
		t.Fatalf("Expected the retry to succeed, got %s", err)
	}

	if createCount.Load() != 2 {
		t.Fatalf("Expected two creation attempts, got %d", createCount.Load())
	}
}

func TestClearConnectionEvicts(t *testing.T) {
	sessionProvider := &fakeSessionProvider{}
	sessionProvider.valid.Store(true)

	var createCount atomic.Int32
	factory := newCountingFactory(sessionProvider, &createCount)

	firstConn, err := factory.GetConnection(context.TODO(), "production")
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	factory.ClearConnection("production")

	secondConn, err := factory.GetConnection(context.TODO(), "production")
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	if firstConn == secondConn {
		t.Fatalf("Expected a new connection after an explicit clear")
	}
}
