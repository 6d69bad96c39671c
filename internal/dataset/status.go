package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// FetchStatus tracks one product's detail retrieval across runs.
type FetchStatus struct {
	ProductID string    `json:"product_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

// StatusStore records per-product detail fetch outcomes in a JSON
// file, so a rerun resumes from completed work instead of re-fetching
// it.
type StatusStore struct {
	mu       sync.RWMutex
	statuses map[string]*FetchStatus
	filename string
}

func NewStatusStore(filename string) (*StatusStore, error) {
	s := &StatusStore{
		statuses: make(map[string]*FetchStatus),
		filename: filename,
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

func (s *StatusStore) Get(productID string) (*FetchStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[productID]
	return status, ok
}

// IsCompleted reports whether a product's detail page was already
// fetched successfully.
func (s *StatusStore) IsCompleted(productID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[productID]
	return ok && status.Status == StatusCompleted
}

func (s *StatusStore) Set(productID, status string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if productID == "" {
		return fmt.Errorf("product ID is required")
	}

	s.statuses[productID] = &FetchStatus{
		ProductID: productID,
		Status:    status,
		UpdatedAt: time.Now(),
		Error:     errMsg,
	}
	return s.save()
}

// Counts returns how many products sit in each status.
func (s *StatusStore) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, status := range s.statuses {
		counts[status.Status]++
	}
	return counts
}

func (s *StatusStore) load() error {
	data, err := os.ReadFile(s.filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.statuses)
}

func (s *StatusStore) save() error {
	data, err := json.MarshalIndent(s.statuses, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status store: %w", err)
	}
	tmp := s.filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write status store: %w", err)
	}
	if err := os.Rename(tmp, s.filename); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move status store into place: %w", err)
	}
	return nil
}
