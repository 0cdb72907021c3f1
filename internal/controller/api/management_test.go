package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/platform/logger"
	"github.com/syncstack/crm-connector/internal/ratelimit"
	"github.com/syncstack/crm-connector/internal/realtime"

	"github.com/gorilla/mux"
)

const (
	testClientId = "test_client_1"
	testPsk      = "12345"
)

func init() {
	logger.InitLogger()
}

type mockSyncObjectStore struct {
	lock    sync.Mutex
	objects map[string]domain.RegisteredObject
}

func newMockSyncObjectStore() *mockSyncObjectStore {
	return &mockSyncObjectStore{objects: make(map[string]domain.RegisteredObject)}
}

func (s *mockSyncObjectStore) ListObjects(ctx context.Context) ([]domain.RegisteredObject, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	var objects []domain.RegisteredObject
	for _, object := range s.objects {
		objects = append(objects, object)
	}
	return objects, nil
}

func (s *mockSyncObjectStore) UpsertObject(ctx context.Context, object domain.RegisteredObject) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.objects[object.ObjectApi] = object
	return nil
}

func (s *mockSyncObjectStore) DeleteObject(ctx context.Context, objectApi string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.objects, objectApi)
	return nil
}

func (s *mockSyncObjectStore) UpdateLastSyncDate(ctx context.Context, objectApi string, syncDate time.Time) error {
	return nil
}

type mockRateLimitStore struct {
	records []ratelimit.RateLimitRecord
}

func (s *mockRateLimitStore) ListByApiTypeAndLimitType(ctx context.Context, apiType domain.ApiType, limitType string) ([]ratelimit.RateLimitRecord, error) {
	return s.records, nil
}

func (s *mockRateLimitStore) ListByLimitType(ctx context.Context, limitType string) ([]ratelimit.RateLimitRecord, error) {
	return s.records, nil
}

func (s *mockRateLimitStore) Insert(ctx context.Context, record ratelimit.RateLimitRecord) (ratelimit.RateLimitRecord, error) {
	return record, nil
}

func (s *mockRateLimitStore) UpdateWithVersion(ctx context.Context, record ratelimit.RateLimitRecord) (int64, error) {
	return 1, nil
}

func (s *mockRateLimitStore) GetById(ctx context.Context, id int64) (ratelimit.RateLimitRecord, error) {
	return ratelimit.RateLimitRecord{}, ratelimit.ErrRecordNotFound
}

type mockSubscriber struct {
	connected bool
}

func (s *mockSubscriber) Start() {
	s.connected = true
}

func (s *mockSubscriber) Stop() {
	s.connected = false
}

func (s *mockSubscriber) IsConnected() bool {
	return s.connected
}

func createObjectRegistrationPostBody(objectApi string) io.Reader {
	return strings.NewReader(`{"object_api": "` + objectApi + `"}`)
}

var _ = Describe("Management", func() {

	var (
		ms       *ManagementServer
		cfg      *config.Config
		registry *realtime.ObjectRegistry
	)

	BeforeEach(func() {
		apiMux := mux.NewRouter()
		cfg = config.GetConfig()
		cfg.ServiceToServiceCredentials[testClientId] = testPsk

		registry = realtime.NewObjectRegistry(newMockSyncObjectStore())
		service := realtime.NewService(registry, &mockSubscriber{})

		rateLimitStore := &mockRateLimitStore{records: []ratelimit.RateLimitRecord{
			{
				ApiType:      domain.ApiTypeRest,
				LimitType:    ratelimit.LimitTypeDaily,
				CurrentUsage: 12,
				MaxLimit:     15000,
				RemainingVal: 14988,
			},
		}}

		ms = NewManagementServer(service, registry, rateLimitStore, ratelimit.NewCallStats(time.Hour),
			apiMux, cfg.UrlBasePath, cfg)
		ms.Routes()
	})

	authenticatedRequest := func(method string, endpoint string, body io.Reader) *httptest.ResponseRecorder {
		req, err := http.NewRequest(method, cfg.UrlBasePath+endpoint, body)
		Expect(err).NotTo(HaveOccurred())

		req.Header.Set("x-crm-connector-client-id", testClientId)
		req.Header.Set("x-crm-connector-psk", testPsk)

		rr := httptest.NewRecorder()
		ms.router.ServeHTTP(rr, req)
		return rr
	}

	Describe("Connecting to the realtime endpoints", func() {
		Context("Without service credentials", func() {
			It("Should fail with a 401", func() {
				req, err := http.NewRequest("GET", cfg.UrlBasePath+"/realtime/status", nil)
				Expect(err).NotTo(HaveOccurred())

				rr := httptest.NewRecorder()
				ms.router.ServeHTTP(rr, req)

				Expect(rr.Code).To(Equal(http.StatusUnauthorized))
			})
		})

		Context("With valid service credentials", func() {
			It("Should report a stopped service", func() {
				rr := authenticatedRequest("GET", "/realtime/status", nil)

				Expect(rr.Code).To(Equal(http.StatusOK))

				var status realtime.ServiceStatus
				Expect(json.Unmarshal(rr.Body.Bytes(), &status)).To(Succeed())
				Expect(status.State).To(Equal(realtime.ServiceStateStopped))
			})

			It("Should start and stop the service", func() {
				rr := authenticatedRequest("POST", "/realtime/start", nil)
				Expect(rr.Code).To(Equal(http.StatusOK))

				var status realtime.ServiceStatus
				Expect(json.Unmarshal(rr.Body.Bytes(), &status)).To(Succeed())
				Expect(status.State).To(Equal(realtime.ServiceStateRunning))
				Expect(status.Connected).To(BeTrue())

				rr = authenticatedRequest("POST", "/realtime/start", nil)
				Expect(rr.Code).To(Equal(http.StatusConflict))

				rr = authenticatedRequest("POST", "/realtime/stop", nil)
				Expect(rr.Code).To(Equal(http.StatusOK))

				rr = authenticatedRequest("POST", "/realtime/stop", nil)
				Expect(rr.Code).To(Equal(http.StatusConflict))
			})

			It("Should restart a stopped service", func() {
				rr := authenticatedRequest("POST", "/realtime/restart", nil)
				Expect(rr.Code).To(Equal(http.StatusOK))

				var status realtime.ServiceStatus
				Expect(json.Unmarshal(rr.Body.Bytes(), &status)).To(Succeed())
				Expect(status.State).To(Equal(realtime.ServiceStateRunning))
			})
		})
	})

	Describe("Managing sync objects", func() {
		It("Should register an object", func() {
			rr := authenticatedRequest("POST", "/sync-objects", createObjectRegistrationPostBody("Account"))
			Expect(rr.Code).To(Equal(http.StatusCreated))
			Expect(registry.IsRegistered("Account")).To(BeTrue())
		})

		It("Should reject a registration without an object api name", func() {
			rr := authenticatedRequest("POST", "/sync-objects", strings.NewReader(`{}`))
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
		})

		It("Should list registered objects", func() {
			authenticatedRequest("POST", "/sync-objects", createObjectRegistrationPostBody("Account"))

			rr := authenticatedRequest("GET", "/sync-objects", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))

			var objects []domain.RegisteredObject
			Expect(json.Unmarshal(rr.Body.Bytes(), &objects)).To(Succeed())
			Expect(objects).To(HaveLen(1))
			Expect(objects[0].ObjectApi).To(Equal("Account"))
		})

		It("Should unregister an object", func() {
			authenticatedRequest("POST", "/sync-objects", createObjectRegistrationPostBody("Account"))

			rr := authenticatedRequest("DELETE", "/sync-objects/Account", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(registry.IsRegistered("Account")).To(BeFalse())
		})

		It("Should return a 404 for an unknown object", func() {
			rr := authenticatedRequest("DELETE", "/sync-objects/Unknown", nil)
			Expect(rr.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Listing rate limits", func() {
		It("Should return the daily records", func() {
			rr := authenticatedRequest("GET", "/rate-limits", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))

			var records []rateLimitResponse
			Expect(json.Unmarshal(rr.Body.Bytes(), &records)).To(Succeed())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ApiType).To(Equal("REST"))
			Expect(records[0].CurrentUsage).To(Equal(12))
		})
	})

	Describe("Listing call stats", func() {
		It("Should return an empty snapshot for a fresh server", func() {
			rr := authenticatedRequest("GET", "/call-stats", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))

			var snapshots []ratelimit.CallStatsSnapshot
			Expect(json.Unmarshal(rr.Body.Bytes(), &snapshots)).To(Succeed())
			Expect(snapshots).To(BeEmpty())
		})
	})
})
