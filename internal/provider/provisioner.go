// Package provider defines the contract a GPU rental provider adapter
// fulfills. Providers evolve independently and their APIs drift, so the
// orchestrator only ever sees this interface; all provider-specific
// behavior (catalog, wire shapes, polling) lives in one adapter package
// per provider.
package provider

import (
	"context"

	"github.com/trainchimp/finetune-orchestrator/internal/catalog"
	"github.com/trainchimp/finetune-orchestrator/internal/models"
)

// Provisioner launches and tears down GPU instances at exactly one
// external provider.
type Provisioner interface {
	// SelectInstance picks the instance type the adapter would provision
	// for the given memory requirement, without side effects. Callers use
	// it as a pre-flight check so an impossible request fails before any
	// external state is created. Returns models.ErrNoInstanceAvailable
	// when the provider's catalog has nothing large enough.
	SelectInstance(requiredGB float64) (catalog.InstanceType, error)

	// Provision submits a create-instance request named after artifactID,
	// carrying the env bundle opaquely to the remote training process,
	// then polls the provider until the instance reports running.
	//
	// Failures are terminal: *models.ProvisionError when the submission
	// or a status poll fails, *models.ProvisionTimeoutError when the
	// attempt budget is exhausted. The adapter never terminates a
	// partially-created instance itself; the error carries the instance
	// ID and cleanup belongs to the caller, which alone knows whether
	// compensating the artifact record is also required.
	Provision(ctx context.Context, artifactID string, requiredGB float64, env map[string]string) (*models.GPUInstance, error)

	// Terminate destroys a provisioned instance. Used by the caller's
	// compensation path; in the success path the remote training workload
	// terminates its own instance on completion.
	Terminate(ctx context.Context, instanceID string) error
}
