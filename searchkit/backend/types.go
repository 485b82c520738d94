package backend

import (
	"time"
)

// SortBy selects the ordering key.
type SortBy string

// Supported sort keys.
const (
	SortRelevance SortBy = "relevance"
	SortDate      SortBy = "date"
	SortCustom    SortBy = "custom"
)

// SortOrder selects ascending or descending order.
type SortOrder string

// Supported sort orders.
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Options tune a single search call. Options are passed by value and never
// mutated by the orchestrator.
type Options struct {
	Limit     int
	Offset    int
	Filters   map[string][]string
	SortBy    SortBy
	SortOrder SortOrder

	// DisableCache bypasses the cache for this call, both for reads and write-through.
	DisableCache bool
	// CacheTTL overrides the configured write-through TTL when positive.
	CacheTTL time.Duration
	// Timeout overrides the configured per-backend deadline when positive.
	Timeout time.Duration
}

// Item is a single search hit.
type Item struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
	// Source is the provenance tag of the backend that produced the item.
	Source Identity `json:"source"`
}

// Document is a record handed to an Indexer. Fields are exposed to filters
// and returned in the item payload next to the text.
type Document struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Fields    map[string]any `json:"fields,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Result is an ordered page of items.
type Result struct {
	Items []Item `json:"items"`
	// Total is the number of matches before pagination.
	Total int `json:"total"`
}

// HealthStatus is the outcome of a health probe.
type HealthStatus struct {
	Connected     bool          `json:"connected"`
	SearchCapable bool          `json:"searchCapable"`
	Latency       time.Duration `json:"-"`
	LatencyMs     int64         `json:"latencyMs"`
	CheckedAt     time.Time     `json:"checkedAt"`
	Errors        []string      `json:"errors,omitempty"`
}

// Healthy reports whether the backend is connected and able to search.
func (h HealthStatus) Healthy() bool {
	return h.Connected && h.SearchCapable
}

// HealthyStatus builds a connected, search-capable status.
func HealthyStatus(latency time.Duration) HealthStatus {
	return HealthStatus{
		Connected:     true,
		SearchCapable: true,
		Latency:       latency,
		LatencyMs:     latency.Milliseconds(),
		CheckedAt:     time.Now(),
	}
}

// UnhealthyStatus builds a disconnected status carrying err.
func UnhealthyStatus(latency time.Duration, err error) HealthStatus {
	status := HealthStatus{
		Latency:   latency,
		LatencyMs: latency.Milliseconds(),
		CheckedAt: time.Now(),
	}

	if err != nil {
		status.Errors = []string{err.Error()}
	}

	return status
}

// Page applies offset and limit to items. An offset past the end yields an
// empty, non-nil slice.
func Page(items []Item, offset, limit int) []Item {
	if offset < 0 {
		offset = 0
	}

	if offset >= len(items) {
		return []Item{}
	}

	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	page := make([]Item, end-offset)
	copy(page, items[offset:end])

	return page
}

// Tag sets the provenance of every item to source.
func Tag(items []Item, source Identity) []Item {
	for i := range items {
		items[i].Source = source
	}

	return items
}
