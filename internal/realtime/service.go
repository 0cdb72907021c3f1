package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/platform/logger"
)

type ServiceState string

const (
	ServiceStateStopped ServiceState = "STOPPED"
	ServiceStateRunning ServiceState = "RUNNING"
)

var (
	ErrServiceAlreadyRunning = errors.New("realtime sync service is already running")
	ErrServiceNotRunning     = errors.New("realtime sync service is not running")
)

// SubscriberLifecycle is the piece of the event bus subscriber the service
// drives.
type SubscriberLifecycle interface {
	Start()
	Stop()
	IsConnected() bool
}

type ServiceStatus struct {
	State     ServiceState              `json:"state"`
	Connected bool                      `json:"connected"`
	Objects   []domain.RegisteredObject `json:"objects"`
}

// Service owns the realtime sync lifecycle.  Starting refreshes the object
// registry before the subscriber comes up, so a fresh deployment begins
// with the currently configured objects.
type Service struct {
	registry   *ObjectRegistry
	subscriber SubscriberLifecycle

	lock  sync.Mutex
	state ServiceState
}

func NewService(registry *ObjectRegistry, subscriber SubscriberLifecycle) *Service {
	return &Service{
		registry:   registry,
		subscriber: subscriber,
		state:      ServiceStateStopped,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state == ServiceStateRunning {
		return ErrServiceAlreadyRunning
	}

	err := s.registry.Refresh(ctx)
	if err != nil {
		return err
	}

	s.subscriber.Start()
	s.state = ServiceStateRunning

	logger.Log.Info("Realtime sync service started")

	return nil
}

func (s *Service) Stop() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state != ServiceStateRunning {
		return ErrServiceNotRunning
	}

	s.subscriber.Stop()
	s.state = ServiceStateStopped

	logger.Log.Info("Realtime sync service stopped")

	return nil
}

func (s *Service) Restart(ctx context.Context) error {
	err := s.Stop()
	if err != nil && err != ErrServiceNotRunning {
		return err
	}
	return s.Start(ctx)
}

func (s *Service) Status() ServiceStatus {
	s.lock.Lock()
	state := s.state
	s.lock.Unlock()

	connected := false
	if state == ServiceStateRunning {
		connected = s.subscriber.IsConnected()
	}

	return ServiceStatus{
		State:     state,
		Connected: connected,
		Objects:   s.registry.List(),
	}
}
