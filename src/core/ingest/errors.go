package ingest

import (
	"errors"
	"fmt"
)

// The engine never classifies failures by matching error text. The storage
// adapter translates backend errors into these types and the engine decides
// retry, fallback and reporting behavior with errors.As.

// ValidationError marks a malformed row. Row-level, never fatal to a batch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DuplicateError marks a natural-key collision, either against existing
// storage or within the same upload. Row-level, never fatal.
type DuplicateError struct {
	Key string
	Err error
}

func (e *DuplicateError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("record already exists: %s", e.Key)
	}
	return "record already exists"
}

func (e *DuplicateError) Unwrap() error { return e.Err }

// TransientError marks a connection-class failure worth retrying with a
// fresh session: dropped connections, timeouts, TLS handshake failures.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient storage error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a storage failure that retrying cannot fix, such as a
// constraint violation on an individual insert.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("storage error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// AuthError marks a failure to obtain a write credential. Task-level, fatal.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("authentication error: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsDuplicate(err error) bool {
	var de *DuplicateError
	return errors.As(err, &de)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
