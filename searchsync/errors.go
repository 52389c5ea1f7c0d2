package searchsync

import (
	"errors"
	"fmt"
)

// ErrNotConfigured means the stored connection settings are missing,
// inactive, or invalid; gateway calls treat it as "index unreachable", not a
// crash.
var ErrNotConfigured = errors.New("search index is not configured")

// ConfigurationError is a fatal settings problem surfaced to the operator. A
// sync run does not start while one is outstanding.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("search configuration invalid: %s: %v", e.Reason, e.Err)
	}
	return "search configuration invalid: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ConnectionError wraps transport failures against the index. Retried only by
// the gateway's bulk backoff policy.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("search index %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IndexWriteError is a single document operation rejected by the index.
type IndexWriteError struct {
	Index      string
	DocumentID string
	Op         string
	StatusCode int
	Reason     string
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("index write %s rejected (index=%s id=%s status=%d): %s",
		e.Op, e.Index, e.DocumentID, e.StatusCode, e.Reason)
}
