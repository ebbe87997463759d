// Package estimator maps a base model reference to the accelerator memory
// it needs for LoRA fine-tuning. This is a deliberately coarse heuristic,
// not a memory profiler: callers must tolerate over- and under-estimation.
package estimator

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/trainchimp/finetune-orchestrator/internal/models"
)

const (
	// Half-precision weights.
	bytesPerParam = 2.0
	// Optimizer and gradient state on top of the weights.
	overheadMultiplier = 1.5
)

// Matches size tokens like "7B", "13b", "350M" or "1.1B" inside a model
// reference such as "meta-llama/Llama-3.2-1B-Instruct".
var sizeTokenRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*([mb])\b`)

// EstimateMemoryGB returns the required accelerator memory in whole GB for
// the given model. An explicit parameter count (in billions) takes
// precedence; otherwise the count is parsed from the last size token in
// modelRef. Returns models.ErrInvalidModelRef when neither source yields a
// positive parameter count.
func EstimateMemoryGB(modelRef string, explicitParamsBillions float64) (float64, error) {
	params := explicitParamsBillions
	if params <= 0 {
		parsed, ok := parseParamsBillions(modelRef)
		if !ok {
			return 0, fmt.Errorf("cannot size %q: %w", modelRef, models.ErrInvalidModelRef)
		}
		params = parsed
	}
	return math.Ceil(params * bytesPerParam * overheadMultiplier), nil
}

// parseParamsBillions extracts the parameter count from a model reference.
// When several size tokens appear the last one wins; published model names
// put the size at the end ("Llama-3.2-1B-Instruct", "bloom-560m").
func parseParamsBillions(modelRef string) (float64, bool) {
	matches := sizeTokenRe.FindAllStringSubmatch(modelRef, -1)
	if len(matches) == 0 {
		return 0, false
	}
	last := matches[len(matches)-1]
	n, err := strconv.ParseFloat(last[1], 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	if strings.EqualFold(last[2], "m") {
		n /= 1000
	}
	return n, true
}
