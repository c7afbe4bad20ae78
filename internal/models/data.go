package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// StatusPrivate marks a record as a draft that readers with AccessNone never see.
const StatusPrivate = "private"

// Data is one record in a plugin's data store.
type Data struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Content   json.RawMessage `json:"content"`
}

// Validate checks the record can be stored. It returns the first problem found.
func (d Data) Validate() error {
	if strings.TrimSpace(d.Type) == "" {
		return fmt.Errorf("type is required")
	}
	if strings.TrimSpace(d.Status) == "" {
		return fmt.Errorf("status is required")
	}
	if d.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if len(bytes.TrimSpace(d.Content)) == 0 {
		return fmt.Errorf("content is required")
	}
	if !json.Valid(d.Content) {
		return fmt.Errorf("content must be valid JSON")
	}
	return nil
}

// IsValid is Validate as a predicate.
func (d Data) IsValid() bool {
	return d.Validate() == nil
}

// IsPrivate reports whether the record is a draft.
func (d Data) IsPrivate() bool {
	return d.Status == StatusPrivate
}

// CompactContent returns Content without insignificant whitespace, so two
// encodings of the same document compare equal in storage.
func (d Data) CompactContent() (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, d.Content); err != nil {
		return "", fmt.Errorf("compact content: %w", err)
	}
	return buf.String(), nil
}

// Matches reports whether stored record s is the one identified by d: by ID
// when d has one, otherwise by type, status, timestamp and content.
func (d Data) Matches(s Data) bool {
	if d.ID != "" {
		return d.ID == s.ID
	}
	if d.Type != s.Type || d.Status != s.Status || !d.Timestamp.Equal(s.Timestamp) {
		return false
	}
	a, errA := d.CompactContent()
	b, errB := s.CompactContent()
	return errA == nil && errB == nil && a == b
}

// DataOptions bounds and filters a read or delete. Records are taken newest
// first.
type DataOptions struct {
	Number int `json:"number"`
	// StartTimestamp, when set, keeps records at or before it.
	StartTimestamp *time.Time `json:"start_timestamp,omitempty"`
	Type           string     `json:"type,omitempty"`
}

// ErrNumberRequired is returned by DataOptions.Validate for a non-positive Number.
var ErrNumberRequired = errors.New("number must be a positive integer")

// Validate checks the options before they reach a store.
func (o DataOptions) Validate() error {
	if o.Number < 1 {
		return ErrNumberRequired
	}
	return nil
}

// Accepts reports whether d passes the Type and StartTimestamp filters.
func (o DataOptions) Accepts(d Data) bool {
	if o.Type != "" && d.Type != o.Type {
		return false
	}
	if o.StartTimestamp != nil && d.Timestamp.After(*o.StartTimestamp) {
		return false
	}
	return true
}
