package runpod

import (
	"github.com/shopspring/decimal"

	"github.com/trainchimp/finetune-orchestrator/internal/catalog"
)

// defaultCatalog is the RunPod secure-cloud lineup this adapter rents
// from, with on-demand rates. Static data, not fetched live; update it
// when RunPod changes pricing.
func defaultCatalog() catalog.Catalog {
	return catalog.New([]catalog.InstanceType{
		{
			ID:          "NVIDIA RTX A4000",
			Name:        "RTX A4000",
			MemoryGB:    16,
			CostPerHour: decimal.NewFromFloat(0.32),
		},
		{
			ID:          "NVIDIA RTX A5000",
			Name:        "RTX A5000",
			MemoryGB:    24,
			CostPerHour: decimal.NewFromFloat(0.43),
		},
		{
			ID:          "NVIDIA A40",
			Name:        "A40",
			MemoryGB:    48,
			CostPerHour: decimal.NewFromFloat(0.79),
		},
		{
			ID:          "NVIDIA A100 80GB PCIe",
			Name:        "A100 80GB",
			MemoryGB:    80,
			CostPerHour: decimal.NewFromFloat(1.64),
		},
		{
			ID:          "NVIDIA H100 80GB HBM3",
			Name:        "H100 80GB",
			MemoryGB:    80,
			CostPerHour: decimal.NewFromFloat(2.99),
		},
	})
}
