// Package model defines the core memory data types.
package model

import "time"

// Memory represents a stored memory record.
type Memory struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"-"`
	Project     string    `json:"project,omitempty"`
	Tags        []string  `json:"tags"`
	CreatedAt   int64     `json:"created_at"`
	UpdatedAt   int64     `json:"updated_at"`
	Archived    bool      `json:"archived"`
}

// CreatedTime returns CreatedAt as a UTC time.
func (m *Memory) CreatedTime() time.Time {
	return time.Unix(m.CreatedAt, 0).UTC()
}

// FormatTimestamp renders epoch seconds as an RFC 3339 UTC string.
func FormatTimestamp(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

// ResultMemory is a ranked search hit as reported to callers.
type ResultMemory struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Score     float64  `json:"score"`
	Project   string   `json:"project,omitempty"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"created_at"`
}
