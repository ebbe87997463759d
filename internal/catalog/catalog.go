// Package catalog holds the static table of instance types a GPU provider
// rents out. Each provisioning adapter bakes in its own lineup; the catalog
// is never queried live.
package catalog

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/trainchimp/finetune-orchestrator/internal/models"
)

// InstanceType is one rentable GPU configuration.
type InstanceType struct {
	ID          string          `json:"id"`   // provider's identifier, e.g. "NVIDIA A40"
	Name        string          `json:"name"` // display name
	MemoryGB    float64         `json:"memory_gb"`
	CostPerHour decimal.Decimal `json:"cost_per_hour"`
}

// Catalog is an immutable list of instance types.
type Catalog struct {
	entries []InstanceType
}

// New creates a catalog from the given entries.
func New(entries []InstanceType) Catalog {
	return Catalog{entries: entries}
}

// Entries returns the catalog contents.
func (c Catalog) Entries() []InstanceType {
	return c.entries
}

// Select returns the instance type with the smallest memory that still
// meets or exceeds requiredGB. Ties and ordering are decided on memory
// alone, never cost: within one provider's lineup cost is assumed to grow
// with memory, so the smallest sufficient instance is also the cheapest.
// Returns models.ErrNoInstanceAvailable when nothing in the catalog is
// large enough.
func (c Catalog) Select(requiredGB float64) (InstanceType, error) {
	var best *InstanceType
	for i := range c.entries {
		e := c.entries[i]
		if e.MemoryGB < requiredGB {
			continue
		}
		if best == nil || e.MemoryGB < best.MemoryGB {
			best = &e
		}
	}
	if best == nil {
		return InstanceType{}, fmt.Errorf("need %.0f GB: %w", requiredGB, models.ErrNoInstanceAvailable)
	}
	return *best, nil
}
