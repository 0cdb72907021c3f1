package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/platform/logger"

	kafka "github.com/segmentio/kafka-go"
)

func init() {
	logger.InitLogger()
}

type memorySyncStore struct {
	lock      sync.Mutex
	objects   map[string]domain.RegisteredObject
	listError error
}

func newMemorySyncStore() *memorySyncStore {
	return &memorySyncStore{objects: make(map[string]domain.RegisteredObject)}
}

func (s *memorySyncStore) ListObjects(ctx context.Context) ([]domain.RegisteredObject, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.listError != nil {
		return nil, s.listError
	}

	var objects []domain.RegisteredObject
	for _, object := range s.objects {
		objects = append(objects, object)
	}
	return objects, nil
}

func (s *memorySyncStore) UpsertObject(ctx context.Context, object domain.RegisteredObject) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.objects[object.ObjectApi] = object
	return nil
}

func (s *memorySyncStore) DeleteObject(ctx context.Context, objectApi string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.objects, objectApi)
	return nil
}

func (s *memorySyncStore) UpdateLastSyncDate(ctx context.Context, objectApi string, syncDate time.Time) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	object, found := s.objects[objectApi]
	if found {
		object.LastSyncDate = &syncDate
		s.objects[objectApi] = object
	}
	return nil
}

type memoryRecordStore struct {
	lock     sync.Mutex
	upserted []domain.ChangeRecord
	deleted  []string
}

func (s *memoryRecordStore) UpsertRecord(ctx context.Context, record domain.ChangeRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.upserted = append(s.upserted, record)
	return nil
}

func (s *memoryRecordStore) DeleteRecord(ctx context.Context, entityName string, recordId string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.deleted = append(s.deleted, entityName+":"+recordId)
	return nil
}

type recordingAnnouncer struct {
	announced []domain.ChangeRecord
}

func (a *recordingAnnouncer) Announce(ctx context.Context, record domain.ChangeRecord) error {
	a.announced = append(a.announced, record)
	return nil
}

func TestRegistryRegisterAndUnregister(t *testing.T) {
	registry := NewObjectRegistry(newMemorySyncStore())

	err := registry.Register(context.TODO(), "Account")
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	if registry.IsRegistered("Account") == false {
		t.Fatalf("Expected Account to be registered")
	}

	// lookups are case-insensitive
	if registry.IsRegistered("account") == false {
		t.Fatalf("Expected lookups to ignore case")
	}

	err = registry.Unregister(context.TODO(), "Account")
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	if registry.IsRegistered("Account") {
		t.Fatalf("Expected Account to be unregistered")
	}
}

func TestRegistryRefreshReplacesView(t *testing.T) {
	store := newMemorySyncStore()
	registry := NewObjectRegistry(store)

	err := registry.Register(context.TODO(), "Account")
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	// the store changes behind the registry's back
	store.UpsertObject(context.TODO(), domain.RegisteredObject{ObjectApi: "Contact", IsRealtimeSyncEnabled: true})
	store.DeleteObject(context.TODO(), "Account")

	err = registry.Refresh(context.TODO())
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	if registry.IsRegistered("Account") {
		t.Fatalf("Expected Account to be dropped by the refresh")
	}
	if registry.IsRegistered("Contact") == false {
		t.Fatalf("Expected Contact to be picked up by the refresh")
	}
}

func TestRegistryIgnoresDisabledObjects(t *testing.T) {
	store := newMemorySyncStore()
	store.UpsertObject(context.TODO(), domain.RegisteredObject{ObjectApi: "Lead", IsRealtimeSyncEnabled: false})

	registry := NewObjectRegistry(store)

	err := registry.Refresh(context.TODO())
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	if registry.IsRegistered("Lead") {
		t.Fatalf("Expected a disabled object to not count as registered")
	}
}

func newRegisteredRegistry(t *testing.T, objectApis ...string) *ObjectRegistry {
	t.Helper()

	registry := NewObjectRegistry(newMemorySyncStore())
	for _, objectApi := range objectApis {
		if err := registry.Register(context.TODO(), objectApi); err != nil {
			t.Fatalf("Expected no error, got %s", err)
		}
	}
	return registry
}

func TestSynchronizeDataUpsertsRegisteredRecord(t *testing.T) {
	registry := newRegisteredRegistry(t, "Account")
	records := &memoryRecordStore{}
	announcer := &recordingAnnouncer{}
	synchronizer := NewSqlDataSynchronizer(registry, records, announcer)

	record := domain.ChangeRecord{
		EntityName: "Account",
		RecordID:   "001xyz",
		ChangeType: domain.ChangeTypeUpdate,
		Fields:     map[string]interface{}{"Name": "Acme"},
	}

	err := synchronizer.SynchronizeData(context.TODO(), record)
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	if len(records.upserted) != 1 {
		t.Fatalf("Expected one upserted record, got %d", len(records.upserted))
	}
	if len(announcer.announced) != 1 {
		t.Fatalf("Expected one announced record, got %d", len(announcer.announced))
	}

	var lastSyncDate *time.Time
	for _, object := range registry.List() {
		if object.ObjectApi == "Account" {
			lastSyncDate = object.LastSyncDate
		}
	}
	if lastSyncDate == nil {
		t.Fatalf("Expected the last sync date to be recorded")
	}
}

func TestSynchronizeDataDropsUnregisteredRecord(t *testing.T) {
	registry := newRegisteredRegistry(t, "Account")
	records := &memoryRecordStore{}
	announcer := &recordingAnnouncer{}
	synchronizer := NewSqlDataSynchronizer(registry, records, announcer)

	err := synchronizer.SynchronizeData(context.TODO(), domain.ChangeRecord{
		EntityName: "Opportunity",
		RecordID:   "006abc",
		ChangeType: domain.ChangeTypeCreate,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	if len(records.upserted) != 0 {
		t.Fatalf("Expected no upserts for an unregistered entity, got %d", len(records.upserted))
	}
	if len(announcer.announced) != 0 {
		t.Fatalf("Expected no announcements for an unregistered entity, got %d", len(announcer.announced))
	}
}

func TestSynchronizeDataDeletesOnDeleteChange(t *testing.T) {
	registry := newRegisteredRegistry(t, "Account")
	records := &memoryRecordStore{}
	synchronizer := NewSqlDataSynchronizer(registry, records, nil)

	err := synchronizer.SynchronizeData(context.TODO(), domain.ChangeRecord{
		EntityName: "Account",
		RecordID:   "001xyz",
		ChangeType: domain.ChangeTypeDelete,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	if len(records.deleted) != 1 || records.deleted[0] != "Account:001xyz" {
		t.Fatalf("Expected the record to be deleted, got %v", records.deleted)
	}
	if len(records.upserted) != 0 {
		t.Fatalf("Expected no upserts for a delete, got %d", len(records.upserted))
	}
}

type fakeSubscriber struct {
	started   int
	stopped   int
	connected bool
}

func (s *fakeSubscriber) Start() {
	s.started++
	s.connected = true
}

func (s *fakeSubscriber) Stop() {
	s.stopped++
	s.connected = false
}

func (s *fakeSubscriber) IsConnected() bool {
	return s.connected
}

func TestServiceLifecycle(t *testing.T) {
	store := newMemorySyncStore()
	store.UpsertObject(context.TODO(), domain.RegisteredObject{ObjectApi: "Account", IsRealtimeSyncEnabled: true})

	registry := NewObjectRegistry(store)
	subscriber := &fakeSubscriber{}
	service := NewService(registry, subscriber)

	if service.Status().State != ServiceStateStopped {
		t.Fatalf("Expected the service to start out stopped")
	}

	err := service.Start(context.TODO())
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	status := service.Status()
	if status.State != ServiceStateRunning {
		t.Fatalf("Expected RUNNING, got %s", status.State)
	}
	if status.Connected == false {
		t.Fatalf("Expected the status to report the subscriber connection")
	}
	if len(status.Objects) != 1 {
		t.Fatalf("Expected the registry to be refreshed on start, got %d objects", len(status.Objects))
	}

	if err := service.Start(context.TODO()); err != ErrServiceAlreadyRunning {
		t.Fatalf("Expected ErrServiceAlreadyRunning, got %v", err)
	}

	err = service.Stop()
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	if service.Status().State != ServiceStateStopped {
		t.Fatalf("Expected STOPPED after stop")
	}

	if err := service.Stop(); err != ErrServiceNotRunning {
		t.Fatalf("Expected ErrServiceNotRunning, got %v", err)
	}

	err = service.Restart(context.TODO())
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	if subscriber.started != 2 {
		t.Fatalf("Expected two subscriber starts, got %d", subscriber.started)
	}
}

func TestServiceStartFailsWhenRegistryRefreshFails(t *testing.T) {
	store := newMemorySyncStore()
	store.listError = errors.New("db unavailable")

	service := NewService(NewObjectRegistry(store), &fakeSubscriber{})

	err := service.Start(context.TODO())
	if err == nil {
		t.Fatalf("Expected an error when the registry cannot be refreshed")
	}

	if service.Status().State != ServiceStateStopped {
		t.Fatalf("Expected the service to remain stopped after a failed start")
	}
}

type recordingWriter struct {
	messages []kafka.Message
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func TestKafkaAnnouncerKeysMessagesByRecord(t *testing.T) {
	writer := &recordingWriter{}
	announcer := &KafkaChangeEventAnnouncer{writer: writer}

	err := announcer.Announce(context.TODO(), domain.ChangeRecord{
		EntityName: "Account",
		RecordID:   "001xyz",
		ChangeType: domain.ChangeTypeUpdate,
		Fields:     map[string]interface{}{"Name": "Acme"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	if len(writer.messages) != 1 {
		t.Fatalf("Expected one message, got %d", len(writer.messages))
	}
	if string(writer.messages[0].Key) != "Account:001xyz" {
		t.Fatalf("Expected the message key to combine entity and record id, got %s", writer.messages[0].Key)
	}
}
