package api

import (
	"fmt"
	"net/http"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/middlewares"
	"github.com/syncstack/crm-connector/internal/platform/logger"
	"github.com/syncstack/crm-connector/internal/ratelimit"
	"github.com/syncstack/crm-connector/internal/realtime"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// ManagementServer exposes the operational surface: the realtime sync
// lifecycle, the sync object registry, rate limit records and call stats.
type ManagementServer struct {
	realtimeService *realtime.Service
	objectRegistry  *realtime.ObjectRegistry
	rateLimitStore  ratelimit.RateLimitStore
	callStats       *ratelimit.CallStats
	router          *mux.Router
	urlPrefix       string
	config          *config.Config
}

func NewManagementServer(realtimeService *realtime.Service, objectRegistry *realtime.ObjectRegistry,
	rateLimitStore ratelimit.RateLimitStore, callStats *ratelimit.CallStats,
	r *mux.Router, urlPrefix string, cfg *config.Config) *ManagementServer {

	return &ManagementServer{
		realtimeService: realtimeService,
		objectRegistry:  objectRegistry,
		rateLimitStore:  rateLimitStore,
		callStats:       callStats,
		router:          r,
		urlPrefix:       urlPrefix,
		config:          cfg,
	}
}

func (s *ManagementServer) Routes() {
	mmw := &middlewares.MetricsMiddleware{}
	amw := &middlewares.AuthMiddleware{Secrets: s.config.ServiceToServiceCredentials}

	securedSubRouter := s.router.PathPrefix(s.urlPrefix).Subrouter()
	securedSubRouter.Use(logger.AccessLoggerMiddleware,
		mmw.RecordHTTPMetrics,
		amw.Authenticate)

	securedSubRouter.HandleFunc("/realtime/start", s.handleRealtimeStart()).Methods(http.MethodPost)
	securedSubRouter.HandleFunc("/realtime/stop", s.handleRealtimeStop()).Methods(http.MethodPost)
	securedSubRouter.HandleFunc("/realtime/restart", s.handleRealtimeRestart()).Methods(http.MethodPost)
	securedSubRouter.HandleFunc("/realtime/status", s.handleRealtimeStatus()).Methods(http.MethodGet)

	securedSubRouter.HandleFunc("/sync-objects", s.handleObjectListing()).Methods(http.MethodGet)
	securedSubRouter.HandleFunc("/sync-objects", s.handleObjectRegistration()).Methods(http.MethodPost)
	securedSubRouter.HandleFunc("/sync-objects/{objectApi}", s.handleObjectRemoval()).Methods(http.MethodDelete)

	securedSubRouter.HandleFunc("/rate-limits", s.handleRateLimitListing()).Methods(http.MethodGet)
	securedSubRouter.HandleFunc("/call-stats", s.handleCallStats()).Methods(http.MethodGet)
}

type objectRegistration struct {
	ObjectApi string `json:"object_api" validate:"required"`
}

type rateLimitResponse struct {
	ApiType      string `json:"api_type"`
	LimitType    string `json:"limit_type"`
	CurrentUsage int    `json:"current_usage"`
	MaxLimit     int    `json:"max_limit"`
	Remaining    int    `json:"remaining"`
	IsBlocked    bool   `json:"is_blocked"`
	ResetTime    string `json:"reset_time"`
}

func (s *ManagementServer) handleRealtimeStart() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		log := s.requestLogger(req)
		log.Info("Starting the realtime sync service")

		err := s.realtimeService.Start(req.Context())
		if err == realtime.ErrServiceAlreadyRunning {
			errorResponse := errorResponse{Title: err.Error(),
				Status: http.StatusConflict,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}
		if err != nil {
			logger.LogWithError(log, "Unable to start the realtime sync service", err)
			errorResponse := errorResponse{Title: "Unable to start the realtime sync service",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		writeJSONResponse(w, http.StatusOK, s.realtimeService.Status())
	}
}

func (s *ManagementServer) handleRealtimeStop() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		log := s.requestLogger(req)
		log.Info("Stopping the realtime sync service")

		err := s.realtimeService.Stop()
		if err == realtime.ErrServiceNotRunning {
			errorResponse := errorResponse{Title: err.Error(),
				Status: http.StatusConflict,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}
		if err != nil {
			logger.LogWithError(log, "Unable to stop the realtime sync service", err)
			errorResponse := errorResponse{Title: "Unable to stop the realtime sync service",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		writeJSONResponse(w, http.StatusOK, s.realtimeService.Status())
	}
}

func (s *ManagementServer) handleRealtimeRestart() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		log := s.requestLogger(req)
		log.Info("Restarting the realtime sync service")

		err := s.realtimeService.Restart(req.Context())
		if err != nil {
			logger.LogWithError(log, "Unable to restart the realtime sync service", err)
			errorResponse := errorResponse{Title: "Unable to restart the realtime sync service",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		writeJSONResponse(w, http.StatusOK, s.realtimeService.Status())
	}
}

func (s *ManagementServer) handleRealtimeStatus() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {
		writeJSONResponse(w, http.StatusOK, s.realtimeService.Status())
	}
}

func (s *ManagementServer) handleObjectListing() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {
		writeJSONResponse(w, http.StatusOK, s.objectRegistry.List())
	}
}

func (s *ManagementServer) handleObjectRegistration() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		log := s.requestLogger(req)

		body := http.MaxBytesReader(w, req.Body, 1048576)

		var registration objectRegistration

		if err := decodeJSON(body, &registration); err != nil {
			errorResponse := errorResponse{Title: "Unable to process json input",
				Status: http.StatusBadRequest,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		log.Infof("Registering object %s for synchronization", registration.ObjectApi)

		err := s.objectRegistry.Register(req.Context(), registration.ObjectApi)
		if err != nil {
			logger.LogWithError(log, "Unable to register sync object", err)
			errorResponse := errorResponse{Title: "Unable to register sync object",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		writeJSONResponse(w, http.StatusCreated, registration)
	}
}

func (s *ManagementServer) handleObjectRemoval() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		log := s.requestLogger(req)

		objectApi := mux.Vars(req)["objectApi"]

		if s.objectRegistry.IsRegistered(objectApi) == false {
			errMsg := fmt.Sprintf("Object %s is not registered for synchronization", objectApi)
			log.Info(errMsg)
			errorResponse := errorResponse{Title: errMsg,
				Status: http.StatusNotFound,
				Detail: errMsg}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		log.Infof("Unregistering object %s", objectApi)

		err := s.objectRegistry.Unregister(req.Context(), objectApi)
		if err != nil {
			logger.LogWithError(log, "Unable to unregister sync object", err)
			errorResponse := errorResponse{Title: "Unable to unregister sync object",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		writeJSONResponse(w, http.StatusOK, struct{}{})
	}
}

func (s *ManagementServer) handleRateLimitListing() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		log := s.requestLogger(req)

		records, err := s.rateLimitStore.ListByLimitType(req.Context(), ratelimit.LimitTypeDaily)
		if err != nil {
			logger.LogWithError(log, "Unable to list rate limit records", err)
			errorResponse := errorResponse{Title: "Unable to list rate limit records",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		response := make([]rateLimitResponse, 0, len(records))
		for _, record := range records {
			response = append(response, rateLimitResponse{
				ApiType:      record.ApiType.String(),
				LimitType:    record.LimitType,
				CurrentUsage: record.CurrentUsage,
				MaxLimit:     record.MaxLimit,
				Remaining:    record.RemainingVal,
				IsBlocked:    record.IsBlocked,
				ResetTime:    record.ResetTime.String(),
			})
		}

		writeJSONResponse(w, http.StatusOK, response)
	}
}

func (s *ManagementServer) handleCallStats() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {
		writeJSONResponse(w, http.StatusOK, s.callStats.Snapshot())
	}
}

func (s *ManagementServer) requestLogger(req *http.Request) *logrus.Entry {
	principal, _ := middlewares.GetPrincipal(req.Context())
	return logger.Log.WithFields(logrus.Fields{"client_id": principal.ClientID})
}
