// Package kgerr defines the error taxonomy shared by every storage backend
// and engine. Callers discriminate with errors.As; backends wrap their
// driver errors so transport failures stay distinguishable from data errors.
package kgerr

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError reports a missing entity or relation within a tenant.
type NotFoundError struct {
	Kind   string // "entity" or "relation"
	ID     string
	Tenant string
}

func (e *NotFoundError) Error() string {
	if e.Tenant != "" {
		return fmt.Sprintf("%s not found: %s (tenant %s)", e.Kind, e.ID, e.Tenant)
	}
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// DuplicateIDError reports an id collision within a tenant.
type DuplicateIDError struct {
	Kind   string
	ID     string
	Tenant string
}

func (e *DuplicateIDError) Error() string {
	if e.Tenant != "" {
		return fmt.Sprintf("%s already exists: %s (tenant %s)", e.Kind, e.ID, e.Tenant)
	}
	return fmt.Sprintf("%s already exists: %s", e.Kind, e.ID)
}

// SchemaValidationError carries every violation found, not just the first,
// so a caller can report all problems in one pass.
type SchemaValidationError struct {
	TypeName   string
	Violations []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation failed for %q: %s", e.TypeName, strings.Join(e.Violations, "; "))
}

// TenantIsolationError reports a cross-tenant access attempt.
type TenantIsolationError struct {
	Requested string
	Actual    string
}

func (e *TenantIsolationError) Error() string {
	return fmt.Sprintf("tenant isolation violation: scope %q attempted access as %q", e.Actual, e.Requested)
}

// BackendUnavailableError wraps a transient connection or I/O failure.
// It is retryable; the engine surfaces it and leaves retry policy to the
// caller.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s backend unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsDuplicateID reports whether err is (or wraps) a DuplicateIDError.
func IsDuplicateID(err error) bool {
	var target *DuplicateIDError
	return errors.As(err, &target)
}

// IsTenantIsolation reports whether err is (or wraps) a TenantIsolationError.
func IsTenantIsolation(err error) bool {
	var target *TenantIsolationError
	return errors.As(err, &target)
}

// IsRetryable reports whether err is worth retrying with backoff.
// Only backend availability failures qualify; data-integrity errors never do.
func IsRetryable(err error) bool {
	var target *BackendUnavailableError
	return errors.As(err, &target)
}
