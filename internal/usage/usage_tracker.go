package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"defgen/internal/logging"
)

type contextKey struct{}

// DefaultRecentCapacity bounds the events a tracker keeps in memory.
const DefaultRecentCapacity = 256

// Tracker aggregates validation events in memory and optionally persists
// the aggregate as JSON. It is a Sink.
type Tracker struct {
	mu       sync.Mutex
	data     UsageData
	filePath string
	dirty    bool
	recent   []Event
	capacity int
}

// NewTracker creates a tracker. An empty filePath keeps everything in
// memory; otherwise a previous aggregate is loaded from the file.
func NewTracker(filePath string) (*Tracker, error) {
	t := &Tracker{
		filePath: filePath,
		capacity: DefaultRecentCapacity,
		data:     UsageData{Version: "1.0", Aggregate: newAggregate()},
	}
	if filePath == "" {
		return t, nil
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry dir: %w", err)
	}
	if err := t.Load(); err != nil {
		logging.Get(logging.CategoryTelemetry).Warn("Ignoring unreadable usage file %s: %v", filePath, err)
	}
	return t, nil
}

func newAggregate() AggregatedStats {
	return AggregatedStats{
		ByCategory:       make(map[string]OutcomeCounts),
		ByCatalogVersion: make(map[string]OutcomeCounts),
	}
}

// Load reads the aggregate from disk.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var loaded UsageData
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	if loaded.Aggregate.ByCategory == nil {
		loaded.Aggregate.ByCategory = make(map[string]OutcomeCounts)
	}
	if loaded.Aggregate.ByCatalogVersion == nil {
		loaded.Aggregate.ByCatalogVersion = make(map[string]OutcomeCounts)
	}
	t.data = loaded
	return nil
}

// Save writes the aggregate to disk when it changed.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	if t.filePath == "" || !t.dirty {
		return nil
	}
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(t.filePath, data, 0644); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

// Record folds ev into the aggregate.
func (t *Tracker) Record(_ context.Context, ev Event) error {
	ev = ev.withDefaults()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.Aggregate.Total.Add(ev)
	addToMap(t.data.Aggregate.ByCategory, string(ev.Category), ev)
	addToMap(t.data.Aggregate.ByCatalogVersion, ev.CatalogVersion, ev)

	t.recent = append(t.recent, ev)
	if over := len(t.recent) - t.capacity; over > 0 {
		t.recent = append(t.recent[:0], t.recent[over:]...)
	}
	t.dirty = true
	return nil
}

// Close persists the aggregate.
func (t *Tracker) Close() error {
	return t.Save()
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByCategory = copyCountsMap(stats.ByCategory)
	stats.ByCatalogVersion = copyCountsMap(stats.ByCatalogVersion)
	return stats
}

// Recent returns up to n of the latest events, newest last.
func (t *Tracker) Recent(n int) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 || n > len(t.recent) {
		n = len(t.recent)
	}
	out := make([]Event, n)
	copy(out, t.recent[len(t.recent)-n:])
	return out
}

func copyCountsMap(src map[string]OutcomeCounts) map[string]OutcomeCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]OutcomeCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]OutcomeCounts, key string, ev Event) {
	entry := m[key]
	entry.Add(ev)
	m[key] = entry
}

// NewContext returns a new context carrying the sink.
func NewContext(ctx context.Context, s Sink) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext retrieves the sink from the context.
func FromContext(ctx context.Context) Sink {
	val, _ := ctx.Value(contextKey{}).(Sink)
	return val
}
