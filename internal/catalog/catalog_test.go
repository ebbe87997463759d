package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainchimp/finetune-orchestrator/internal/models"
)

func testEntries() []InstanceType {
	return []InstanceType{
		{ID: "a4000", Name: "NVIDIA RTX A4000", MemoryGB: 16, CostPerHour: decimal.RequireFromString("0.32")},
		{ID: "a5000", Name: "NVIDIA RTX A5000", MemoryGB: 24, CostPerHour: decimal.RequireFromString("0.43")},
		{ID: "a40", Name: "NVIDIA A40", MemoryGB: 48, CostPerHour: decimal.RequireFromString("0.79")},
		{ID: "a100", Name: "NVIDIA A100 80GB PCIe", MemoryGB: 80, CostPerHour: decimal.RequireFromString("1.64")},
	}
}

func TestSelectSmallestSufficient(t *testing.T) {
	c := New(testEntries())

	got, err := c.Select(3)
	require.NoError(t, err)
	assert.Equal(t, "a4000", got.ID)

	got, err = c.Select(20)
	require.NoError(t, err)
	assert.Equal(t, "a5000", got.ID)

	got, err = c.Select(60)
	require.NoError(t, err)
	assert.Equal(t, "a100", got.ID)
}

func TestSelectExactBoundary(t *testing.T) {
	c := New(testEntries())

	// A requirement equal to an entry's capacity fits that entry.
	got, err := c.Select(24)
	require.NoError(t, err)
	assert.Equal(t, "a5000", got.ID)
}

func TestSelectByMemoryNotCost(t *testing.T) {
	// A larger instance that happens to be cheaper must not win.
	c := New([]InstanceType{
		{ID: "big-cheap", MemoryGB: 48, CostPerHour: decimal.RequireFromString("0.10")},
		{ID: "small-pricey", MemoryGB: 24, CostPerHour: decimal.RequireFromString("5.00")},
	})

	got, err := c.Select(20)
	require.NoError(t, err)
	assert.Equal(t, "small-pricey", got.ID)
}

func TestSelectMemoryTieKeepsFirst(t *testing.T) {
	c := New([]InstanceType{
		{ID: "first-80", MemoryGB: 80, CostPerHour: decimal.RequireFromString("1.64")},
		{ID: "second-80", MemoryGB: 80, CostPerHour: decimal.RequireFromString("2.99")},
	})

	got, err := c.Select(64)
	require.NoError(t, err)
	assert.Equal(t, "first-80", got.ID)
}

func TestSelectNoInstanceAvailable(t *testing.T) {
	c := New(testEntries())

	_, err := c.Select(500)
	require.Error(t, err)
	assert.True(t, models.IsNoInstanceAvailable(err))
}

func TestSelectEmptyCatalog(t *testing.T) {
	c := New(nil)

	_, err := c.Select(1)
	assert.True(t, models.IsNoInstanceAvailable(err))
}
