package registry

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Target is a monitored endpoint. The ID is immutable once assigned;
// name, url and enabled may change over the target's lifetime.
type Target struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChangeKind tags a change feed record. The wire values match the
// insert/modify/remove vocabulary of the upstream feed.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "insert"
	ChangeUpdated ChangeKind = "modify"
	ChangeDeleted ChangeKind = "remove"
)

// TargetChangeEvent is one record of the registry change feed. Target holds
// the post-change snapshot, or the pre-delete snapshot for ChangeDeleted.
// Seq is monotonic across the feed; events for one target id must be applied
// in non-decreasing Seq order, duplicates are allowed.
type TargetChangeEvent struct {
	Seq    int64      `json:"seq"`
	Kind   ChangeKind `json:"kind"`
	Target Target     `json:"target"`
}

// Update carries a partial target mutation. Nil fields are left untouched.
type Update struct {
	Name    *string
	URL     *string
	Enabled *bool
}

// ErrNotFound is returned when a target id does not exist.
var ErrNotFound = errors.New("target not found")

// ValidationError is a client-visible rejection of a create/update payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidateName checks the display name used as the metric dimension.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return nil
}

// ValidateURL requires a syntactically valid absolute http(s) URI.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return &ValidationError{Field: "url", Reason: "must not be empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Field: "url", Reason: err.Error()}
	}
	if !u.IsAbs() || u.Host == "" {
		return &ValidationError{Field: "url", Reason: "must be an absolute URI"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}
	return nil
}
