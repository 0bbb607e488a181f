package kgerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicatesMatchWrappedErrors(t *testing.T) {
	notFound := fmt.Errorf("fetching: %w", &NotFoundError{Kind: "entity", ID: "x", Tenant: "acme"})
	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsDuplicateID(notFound))
	assert.False(t, IsRetryable(notFound))

	dup := fmt.Errorf("inserting: %w", &DuplicateIDError{Kind: "relation", ID: "r1"})
	assert.True(t, IsDuplicateID(dup))
	assert.False(t, IsNotFound(dup))

	iso := &TenantIsolationError{Requested: "globex", Actual: "acme"}
	assert.True(t, IsTenantIsolation(iso))

	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}

func TestRetryableOnlyForBackendFailures(t *testing.T) {
	unavailable := &BackendUnavailableError{Backend: "postgres", Err: errors.New("dial refused")}
	assert.True(t, IsRetryable(unavailable))
	assert.True(t, IsRetryable(fmt.Errorf("query: %w", unavailable)))

	assert.False(t, IsRetryable(&NotFoundError{Kind: "entity", ID: "x"}))
	assert.False(t, IsRetryable(&DuplicateIDError{Kind: "entity", ID: "x"}))
}

func TestBackendUnavailableUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := &BackendUnavailableError{Backend: "libsql", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "libsql backend unavailable")
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "entity not found: x (tenant acme)",
		(&NotFoundError{Kind: "entity", ID: "x", Tenant: "acme"}).Error())
	assert.Equal(t, "entity not found: x",
		(&NotFoundError{Kind: "entity", ID: "x"}).Error())

	sv := &SchemaValidationError{TypeName: "person", Violations: []string{"name is required", "age out of range"}}
	assert.Contains(t, sv.Error(), "name is required; age out of range")
}
