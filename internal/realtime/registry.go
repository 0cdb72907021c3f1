package realtime

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

// SyncObjectStore persists which entity types are enabled for
// synchronization.
type SyncObjectStore interface {
	ListObjects(ctx context.Context) ([]domain.RegisteredObject, error)
	UpsertObject(ctx context.Context, object domain.RegisteredObject) error
	DeleteObject(ctx context.Context, objectApi string) error
	UpdateLastSyncDate(ctx context.Context, objectApi string, syncDate time.Time) error
}

// ObjectRegistry is the in-memory view of the sync object configuration.
// The store is the source of truth; Refresh reloads the view from it.
// Lookups are case-insensitive on the object api name.
type ObjectRegistry struct {
	store SyncObjectStore

	lock    sync.RWMutex
	objects map[string]domain.RegisteredObject
}

func NewObjectRegistry(store SyncObjectStore) *ObjectRegistry {
	return &ObjectRegistry{
		store:   store,
		objects: make(map[string]domain.RegisteredObject),
	}
}

func (r *ObjectRegistry) Refresh(ctx context.Context) error {

	objects, err := r.store.ListObjects(ctx)
	if err != nil {
		return err
	}

	refreshed := make(map[string]domain.RegisteredObject, len(objects))
	for _, object := range objects {
		refreshed[registryKey(object.ObjectApi)] = object
	}

	r.lock.Lock()
	r.objects = refreshed
	r.lock.Unlock()

	logger.Log.WithFields(logrus.Fields{"objects": len(refreshed)}).Debug("Sync object registry refreshed")

	return nil
}

func (r *ObjectRegistry) Register(ctx context.Context, objectApi string) error {

	object := domain.RegisteredObject{
		ObjectApi:             objectApi,
		IsRealtimeSyncEnabled: true,
	}

	err := r.store.UpsertObject(ctx, object)
	if err != nil {
		return err
	}

	r.lock.Lock()
	r.objects[registryKey(objectApi)] = object
	r.lock.Unlock()

	return nil
}

func (r *ObjectRegistry) Unregister(ctx context.Context, objectApi string) error {

	err := r.store.DeleteObject(ctx, objectApi)
	if err != nil {
		return err
	}

	r.lock.Lock()
	delete(r.objects, registryKey(objectApi))
	r.lock.Unlock()

	return nil
}

func (r *ObjectRegistry) IsRegistered(objectApi string) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	object, found := r.objects[registryKey(objectApi)]
	return found && object.IsRealtimeSyncEnabled
}

func (r *ObjectRegistry) List() []domain.RegisteredObject {
	r.lock.RLock()
	defer r.lock.RUnlock()

	objects := make([]domain.RegisteredObject, 0, len(r.objects))
	for _, object := range r.objects {
		objects = append(objects, object)
	}
	return objects
}

// RecordSyncDate stamps the last successful sync on both the store and the
// in-memory view.
func (r *ObjectRegistry) RecordSyncDate(ctx context.Context, objectApi string, syncDate time.Time) error {

	err := r.store.UpdateLastSyncDate(ctx, objectApi, syncDate)
	if err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	object, found := r.objects[registryKey(objectApi)]
	if found {
		object.LastSyncDate = &syncDate
		r.objects[registryKey(objectApi)] = object
	}

	return nil
}

func registryKey(objectApi string) string {
	return strings.ToLower(objectApi)
}
