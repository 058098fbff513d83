package optim

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/nbodycl/internal/dynamo"
)

// Goal says whether a search keeps the smallest or the largest metric.
type Goal int

const (
	Minimize Goal = iota
	Maximize
)

// BuildFunc runs one grid point and returns its result. The caller owns any
// resources it allocates and releases them before returning.
type BuildFunc func(ctx context.Context, params map[string]float64) (*dynamo.Result, error)

// Trial is one evaluated grid point.
type Trial struct {
	Params map[string]float64
	Value  float64
	Err    error
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	goal       Goal
}

func NewGridSearch(params []string, ranges [][]float64, goal Goal) (*GridSearch, error) {
	if len(params) != len(ranges) {
		return nil, fmt.Errorf("optim: %d parameters but %d ranges", len(params), len(ranges))
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, fmt.Errorf("optim: empty range for %s", params[i])
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges, goal: goal}, nil
}

// Search evaluates every grid point in order and returns the best one along
// with all trials. Failed points are recorded and skipped; a canceled
// context stops the search.
func (g *GridSearch) Search(ctx context.Context, build BuildFunc, metricName string) (Trial, []Trial, error) {
	var trials []Trial
	best := Trial{Value: math.Inf(1)}
	if g.goal == Maximize {
		best.Value = math.Inf(-1)
	}

	err := g.searchRecursive(ctx, 0, map[string]float64{}, func(params map[string]float64) error {
		res, err := build(ctx, params)
		t := Trial{Params: params, Value: math.NaN(), Err: err}
		if err == nil {
			v, ok := res.Metrics[metricName]
			if !ok {
				t.Err = fmt.Errorf("optim: metric %q not reported", metricName)
			} else {
				t.Value = v
			}
		}
		trials = append(trials, t)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if t.Err == nil && g.better(t.Value, best.Value) {
			best = t
		}
		return nil
	})
	if err != nil {
		return best, trials, err
	}
	if best.Params == nil {
		return best, trials, errors.New("optim: no grid point succeeded")
	}
	return best, trials, nil
}

func (g *GridSearch) better(v, best float64) bool {
	if g.goal == Maximize {
		return v > best
	}
	return v < best
}

func (g *GridSearch) searchRecursive(ctx context.Context, depth int, current map[string]float64, eval func(map[string]float64) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth == len(g.paramNames) {
		return eval(current)
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		newParams := make(map[string]float64, len(current)+1)
		for k, v := range current {
			newParams[k] = v
		}
		newParams[paramName] = val

		if err := g.searchRecursive(ctx, depth+1, newParams, eval); err != nil {
			return err
		}
	}
	return nil
}
