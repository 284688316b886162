// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llmcontext

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/malike2356/abbis-sub018/shared/logger"
)

const (
	// DefaultTokenBudget applies when the assembler is built with budget <= 0.
	DefaultTokenBudget = 8000

	// FallbackTokenCost is charged for a slice that declares no estimate.
	FallbackTokenCost = 200
)

// Assembler runs builders and selects slices within a token budget.
type Assembler struct {
	builders []Builder
	budget   int
	log      *logger.Logger
}

// NewAssembler creates an assembler. Builder order only affects the order
// of slices with equal priority.
func NewAssembler(budget int, builders ...Builder) *Assembler {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	return &Assembler{
		builders: builders,
		budget:   budget,
		log:      logger.New("llm_context"),
	}
}

// Register appends builders.
func (a *Assembler) Register(builders ...Builder) {
	a.builders = append(a.builders, builders...)
}

// Budget returns the configured token budget.
func (a *Assembler) Budget() int { return a.budget }

// Cost is the budget charge for one slice.
func Cost(s Slice) int {
	cost := s.ApproxTokens
	if cost == 0 {
		cost = FallbackTokenCost
	}
	if cost < 1 {
		cost = 1
	}
	return cost
}

// Collect runs every supporting builder concurrently and flattens their
// slices in registration order. A failing builder is logged and
// contributes nothing.
func (a *Assembler) Collect(ctx context.Context, req Request) []Slice {
	results := make([][]Slice, len(a.builders))

	var g errgroup.Group
	for i, b := range a.builders {
		if !b.Supports(req) {
			continue
		}
		i, b := i, b
		g.Go(func() error {
			start := time.Now()
			slices, err := safeBuild(ctx, b, req)
			if err != nil {
				a.log.Warn(req.UserID, "", "context builder failed", map[string]interface{}{
					"builder": b.Key(),
					"error":   err.Error(),
				})
				return nil
			}
			a.log.Debug(req.UserID, "", "context builder finished", map[string]interface{}{
				"builder":     b.Key(),
				"slices":      len(slices),
				"duration_ms": time.Since(start).Milliseconds(),
			})
			results[i] = slices
			return nil
		})
	}
	_ = g.Wait()

	var out []Slice
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// Select orders slices by priority and keeps those that fit the budget.
// Slices that do not fit are skipped without ending the walk.
func (a *Assembler) Select(slices []Slice) []Slice {
	if len(slices) == 0 {
		return nil
	}
	sorted := append([]Slice(nil), slices...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	remaining := a.budget
	selected := make([]Slice, 0, len(sorted))
	for _, s := range sorted {
		cost := Cost(s)
		if remaining-cost < 0 {
			continue
		}
		remaining -= cost
		selected = append(selected, s)
	}
	return selected
}

// Assemble collects and selects, returning the flat serialized slices in
// inclusion order.
func (a *Assembler) Assemble(ctx context.Context, req Request) []map[string]interface{} {
	selected := a.Select(a.Collect(ctx, req))
	out := make([]map[string]interface{}, 0, len(selected))
	for _, s := range selected {
		out = append(out, s.Map())
	}
	return out
}

func safeBuild(ctx context.Context, b Builder, req Request) (slices []Slice, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("builder %s panicked: %v", b.Key(), r)
		}
	}()
	return b.Build(ctx, req)
}

// Types lists the slice types of an assembled context.
func Types(assembled []map[string]interface{}) []string {
	out := make([]string, 0, len(assembled))
	for _, m := range assembled {
		if t, ok := m["type"].(string); ok {
			out = append(out, t)
		}
	}
	return out
}
