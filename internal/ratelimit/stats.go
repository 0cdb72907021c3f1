package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/syncstack/crm-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

// CallStats keeps per connection-class and method call counters in memory.
// Entries that go stale are purged on an interval so the map cannot grow
// without bound across long-lived deployments.
type CallStats struct {
	lock    sync.RWMutex
	entries map[string]*callStatsEntry

	retention time.Duration
}

type callStatsEntry struct {
	count    int64
	lastCall time.Time
}

type CallStatsSnapshot struct {
	ConnectionClass string    `json:"connection_class"`
	MethodName      string    `json:"method_name"`
	Count           int64     `json:"count"`
	LastCall        time.Time `json:"last_call"`
}

func NewCallStats(retention time.Duration) *CallStats {
	return &CallStats{
		entries:   make(map[string]*callStatsEntry),
		retention: retention,
	}
}

func (s *CallStats) Record(connectionClass string, methodName string) {
	key := connectionClass + "." + methodName

	s.lock.Lock()
	defer s.lock.Unlock()

	entry, exists := s.entries[key]
	if exists == false {
		entry = &callStatsEntry{}
		s.entries[key] = entry
	}

	entry.count++
	entry.lastCall = time.Now()
}

func (s *CallStats) Snapshot() []CallStatsSnapshot {

	s.lock.RLock()
	defer s.lock.RUnlock()

	snapshots := make([]CallStatsSnapshot, 0, len(s.entries))

	for key, entry := range s.entries {
		connectionClass, methodName := splitStatsKey(key)
		snapshots = append(snapshots, CallStatsSnapshot{
			ConnectionClass: connectionClass,
			MethodName:      methodName,
			Count:           entry.count,
			LastCall:        entry.lastCall,
		})
	}

	return snapshots
}

// StartPurge removes entries that have not seen a call within the retention
// window.  It runs until the context is cancelled.
func (s *CallStats) StartPurge(ctx context.Context, purgeInterval time.Duration) {

	go func() {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged := s.purgeStaleEntries(time.Now())
				if purged > 0 {
					logger.Log.WithFields(logrus.Fields{"purged": purged}).Debug("Purged stale call stats entries")
				}
			}
		}
	}()
}

func (s *CallStats) purgeStaleEntries(now time.Time) int {

	s.lock.Lock()
	defer s.lock.Unlock()

	purged := 0

	for key, entry := range s.entries {
		if entry.count == 0 || now.Sub(entry.lastCall) > s.retention {
			delete(s.entries, key)
			purged++
		}
	}

	return purged
}

func splitStatsKey(key string) (string, string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '.' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
