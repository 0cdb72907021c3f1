package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestCallStatsRecordAndSnapshot(t *testing.T) {
	stats := NewCallStats(time.Hour)

	stats.Record("RestConnection", "query")
	stats.Record("RestConnection", "query")
	stats.Record("SoapConnection", "getServerTimestamp")

	snapshots := stats.Snapshot()
	if len(snapshots) != 2 {
		t.Fatalf("Expected two entries, got %d", len(snapshots))
	}

	counts := make(map[string]int64)
	for _, snapshot := range snapshots {
		counts[snapshot.ConnectionClass+"."+snapshot.MethodName] = snapshot.Count
	}

	if counts["RestConnection.query"] != 2 {
		t.Fatalf("Expected RestConnection.query count of 2, got %d", counts["RestConnection.query"])
	}
	if counts["SoapConnection.getServerTimestamp"] != 1 {
		t.Fatalf("Expected SoapConnection.getServerTimestamp count of 1, got %d", counts["SoapConnection.getServerTimestamp"])
	}
}

func TestCallStatsConcurrentRecords(t *testing.T) {
	stats := NewCallStats(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats.Record("RestConnection", "query")
		}()
	}
	wg.Wait()

	snapshots := stats.Snapshot()
	if len(snapshots) != 1 {
		t.Fatalf("Expected one entry, got %d", len(snapshots))
	}
	if snapshots[0].Count != 50 {
		t.Fatalf("Expected a count of 50, got %d", snapshots[0].Count)
	}
}

func TestCallStatsPurgeRemovesStaleEntries(t *testing.T) {
	stats := NewCallStats(time.Minute)

	stats.Record("RestConnection", "query")
	stats.Record("SoapConnection", "getServerTimestamp")

	stats.lock.Lock()
	stats.entries["RestConnection.query"].lastCall = time.Now().Add(-2 * time.Minute)
	stats.lock.Unlock()

	purged := stats.purgeStaleEntries(time.Now())
	if purged != 1 {
		t.Fatalf("Expected one purged entry, got %d", purged)
	}

	snapshots := stats.Snapshot()
	if len(snapshots) != 1 {
		t.Fatalf("Expected one surviving entry, got %d", len(snapshots))
	}
	if snapshots[0].ConnectionClass != "SoapConnection" {
		t.Fatalf("Expected the fresh entry to survive, got %s", snapshots[0].ConnectionClass)
	}
}
