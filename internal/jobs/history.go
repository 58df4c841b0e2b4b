package jobs

import (
	"sync"
	"time"

	"github.com/tzamtzis/obsidian-transcription-plugin/internal/domain"
)

// HistoryEntry records one finished job for the recent-jobs list.
type HistoryEntry struct {
	JobID      string          `json:"jobId"`
	SourceName string          `json:"sourceName"`
	State      domain.JobState `json:"state"`
	NotePath   string          `json:"notePath,omitempty"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// History keeps a bounded list of recently finished jobs, oldest
// entries evicted beyond the configured maximum.
type History struct {
	mu      sync.RWMutex
	max     int
	entries []HistoryEntry
}

// NewHistory creates a history with the given capacity.
func NewHistory(max int) *History {
	if max <= 0 {
		max = 20
	}
	return &History{max: max}
}

// Add records a finished job, evicting the oldest beyond capacity.
func (h *History) Add(entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = time.Now().UTC()
	}
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.max {
		trim := len(h.entries) - h.max
		h.entries = append([]HistoryEntry(nil), h.entries[trim:]...)
	}
}

// Recent returns finished jobs, newest first.
func (h *History) Recent() []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]HistoryEntry, len(h.entries))
	for i, entry := range h.entries {
		out[len(h.entries)-1-i] = entry
	}
	return out
}
