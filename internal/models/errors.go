package models

import (
	"errors"
	"fmt"
	"time"
)

// Standard error types that can be used for error checking
var (
	// ErrInvalidModelRef is returned when no parameter count can be derived
	// from a base model reference.
	ErrInvalidModelRef = errors.New("model reference has no parseable parameter count")

	// ErrNoInstanceAvailable is returned when the provider catalog has no
	// instance type large enough for the required memory.
	ErrNoInstanceAvailable = errors.New("no instance type satisfies the memory requirement")

	// ErrArtifactCreation is returned when the external artifact record for a
	// job cannot be created (or its initial state cannot be written).
	ErrArtifactCreation = errors.New("artifact creation failed")

	// ErrProvisioning is the sentinel matched by provisioning submission and
	// poll failures. Use IsProvisioningFailed / errors.As on *ProvisionError
	// to get the provider's reason.
	ErrProvisioning = errors.New("provisioning failed")

	// ErrProvisioningTimeout is returned when an instance never reaches a
	// running state within the polling attempt budget.
	ErrProvisioningTimeout = errors.New("provisioning timed out")

	// ErrDatasetNotFound is returned when the referenced training dataset
	// does not exist in object storage.
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrInvalidInput is returned when request data is invalid.
	ErrInvalidInput = errors.New("invalid input data")
)

// ProvisionError represents a terminal provisioning failure: the provider
// rejected the create-instance request, or a status poll returned an error.
// InstanceID is set when an instance was already created before the failure,
// so the caller can terminate it during compensation.
type ProvisionError struct {
	Op         string // Operation that failed (e.g., "CreatePod", "GetPod")
	InstanceID string // Provider-assigned instance ID, if one exists
	Reason     string // Human-readable reason from the provider
	Err        error  // Underlying error
}

// Error implements the error interface
func (e *ProvisionError) Error() string {
	if e.InstanceID != "" {
		return fmt.Sprintf("%s: instance %s: %s: %v", e.Op, e.InstanceID, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// Is implements the errors.Is interface
func (e *ProvisionError) Is(target error) bool {
	return target == ErrProvisioning || errors.Is(e.Err, target)
}

// NewProvisionError creates a new ProvisionError
func NewProvisionError(op, instanceID, reason string, err error) *ProvisionError {
	return &ProvisionError{
		Op:         op,
		InstanceID: instanceID,
		Reason:     reason,
		Err:        err,
	}
}

// ProvisionTimeoutError represents an instance that was created but never
// reported a running state within the attempt budget. It always carries the
// provider-assigned instance ID so the caller can terminate the stray
// instance during compensation.
type ProvisionTimeoutError struct {
	InstanceID string
	Attempts   int
	Interval   time.Duration
}

// Error implements the error interface
func (e *ProvisionTimeoutError) Error() string {
	return fmt.Sprintf("instance %s not running after %d polls at %s intervals",
		e.InstanceID, e.Attempts, e.Interval)
}

// Is implements the errors.Is interface
func (e *ProvisionTimeoutError) Is(target error) bool {
	return target == ErrProvisioningTimeout
}

// InstanceIDFromError extracts the provider-assigned instance ID from a
// provisioning failure, if one was created before the failure occurred.
// Returns the empty string when no instance exists to clean up.
func InstanceIDFromError(err error) string {
	var perr *ProvisionError
	if errors.As(err, &perr) {
		return perr.InstanceID
	}
	var terr *ProvisionTimeoutError
	if errors.As(err, &terr) {
		return terr.InstanceID
	}
	return ""
}

// IsInvalidModelRef returns true if the error or its cause is an invalid model ref error
func IsInvalidModelRef(err error) bool {
	return errors.Is(err, ErrInvalidModelRef)
}

// IsNoInstanceAvailable returns true if the error or its cause is a no instance available error
func IsNoInstanceAvailable(err error) bool {
	return errors.Is(err, ErrNoInstanceAvailable)
}

// IsArtifactCreation returns true if the error or its cause is an artifact creation error
func IsArtifactCreation(err error) bool {
	return errors.Is(err, ErrArtifactCreation)
}

// IsProvisioningFailed returns true if the error or its cause is a provisioning failure
func IsProvisioningFailed(err error) bool {
	return errors.Is(err, ErrProvisioning)
}

// IsProvisioningTimeout returns true if the error or its cause is a provisioning timeout
func IsProvisioningTimeout(err error) bool {
	return errors.Is(err, ErrProvisioningTimeout)
}

// IsDatasetNotFound returns true if the error or its cause is a dataset not found error
func IsDatasetNotFound(err error) bool {
	return errors.Is(err, ErrDatasetNotFound)
}
