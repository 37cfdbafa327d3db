// Package statuscache holds the authoritative in-memory table of research
// status records, keyed by normalized business name.
package statuscache

import (
	"sort"
	"sync"

	"github.com/sells-group/contact-research/internal/model"
	"github.com/sells-group/contact-research/internal/normalize"
)

// Summary counts cached records by status.
type Summary struct {
	ByStatus    map[model.Status]int `json:"by_status"`
	TotalCached int                  `json:"total_cached"`
}

// Store is a goroutine-safe status table. The zero value is not usable; call New.
type Store struct {
	mu      sync.RWMutex
	records map[string]model.StatusRecord
	order   []string

	lockMu sync.Mutex
	locks  map[string]*nameLock
}

// nameLock is a per-name mutex shared by everyone holding or waiting on it.
type nameLock struct {
	mu   sync.Mutex
	refs int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]model.StatusRecord),
		locks:   make(map[string]*nameLock),
	}
}

// Get returns the record for name after normalizing it.
func (s *Store) Get(name string) (model.StatusRecord, bool) {
	key := normalize.Name(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok
}

// Put upserts rec by its normalized key, replacing any existing record
// entirely. A record that already exists keeps its position in the table.
func (s *Store) Put(rec model.StatusRecord) {
	key := normalize.Name(rec.NormalizedName)
	if key == "" {
		key = normalize.Name(rec.DisplayName)
	}
	if key == "" {
		return
	}
	rec.NormalizedName = key
	if rec.DisplayName == "" {
		rec.DisplayName = key
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(rec)
}

func (s *Store) putLocked(rec model.StatusRecord) {
	if _, ok := s.records[rec.NormalizedName]; !ok {
		s.order = append(s.order, rec.NormalizedName)
	}
	s.records[rec.NormalizedName] = rec
}

// Records returns every record in table order.
func (s *Store) Records() []model.StatusRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StatusRecord, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.records[key])
	}
	return out
}

// Len returns the number of cached records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear removes every record.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]model.StatusRecord)
	s.order = nil
}

// Reset sets the named record back to not_researched, dropping its timestamp,
// method and counts. It reports whether a record existed.
func (s *Store) Reset(name string) bool {
	key := normalize.Name(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return false
	}
	s.records[key] = model.StatusRecord{
		NormalizedName: key,
		DisplayName:    rec.DisplayName,
		Status:         model.StatusNotResearched,
	}
	return true
}

// Summary counts records by status.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := Summary{ByStatus: make(map[model.Status]int), TotalCached: len(s.records)}
	for _, rec := range s.records {
		sum.ByStatus[rec.Status]++
	}
	return sum
}

// Statuses returns the statuses present in the summary, sorted.
func (s Summary) Statuses() []model.Status {
	out := make([]model.Status, 0, len(s.ByStatus))
	for st := range s.ByStatus {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Lock acquires the per-name mutex for name and returns its release func.
// Holding it makes a read-decide-write sequence atomic for that name. The
// entry is dropped once the last holder releases it.
func (s *Store) Lock(name string) func() {
	key := normalize.Name(name)
	s.lockMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &nameLock{}
		s.locks[key] = l
	}
	l.refs++
	s.lockMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.lockMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.lockMu.Unlock()
	}
}
