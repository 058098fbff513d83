package optim

import (
	"context"
	"errors"
	"testing"

	"github.com/san-kum/nbodycl/internal/dynamo"
)

func quadratic(ctx context.Context, p map[string]float64) (*dynamo.Result, error) {
	x, y := p["x"], p["y"]
	return &dynamo.Result{Metrics: map[string]float64{"loss": (x-1)*(x-1) + (y+2)*(y+2)}}, nil
}

func TestGridSearchMinimize(t *testing.T) {
	g, err := NewGridSearch([]string{"x", "y"}, [][]float64{{0, 1, 2}, {-2, 0}}, Minimize)
	if err != nil {
		t.Fatal(err)
	}

	best, trials, err := g.Search(context.Background(), quadratic, "loss")
	if err != nil {
		t.Fatal(err)
	}
	if len(trials) != 6 {
		t.Errorf("trials = %d, want 6", len(trials))
	}
	if best.Params["x"] != 1 || best.Params["y"] != -2 || best.Value != 0 {
		t.Errorf("best = %+v", best)
	}
}

func TestGridSearchMaximize(t *testing.T) {
	g, err := NewGridSearch([]string{"x", "y"}, [][]float64{{0, 1, 2}, {-2, 0}}, Maximize)
	if err != nil {
		t.Fatal(err)
	}

	best, _, err := g.Search(context.Background(), quadratic, "loss")
	if err != nil {
		t.Fatal(err)
	}
	// (0-1)^2+(0+2)^2 = 5 ties with x=2, the first one wins
	if best.Params["x"] != 0 || best.Params["y"] != 0 || best.Value != 5 {
		t.Errorf("best = %+v", best)
	}
}

func TestGridSearchSkipsFailures(t *testing.T) {
	g, _ := NewGridSearch([]string{"x"}, [][]float64{{1, 2, 3}}, Minimize)
	boom := errors.New("boom")

	best, trials, err := g.Search(context.Background(), func(ctx context.Context, p map[string]float64) (*dynamo.Result, error) {
		if p["x"] == 1 {
			return nil, boom
		}
		return &dynamo.Result{Metrics: map[string]float64{"v": p["x"]}}, nil
	}, "v")
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(trials[0].Err, boom) {
		t.Errorf("first trial err = %v", trials[0].Err)
	}
	if best.Params["x"] != 2 {
		t.Errorf("best x = %v, want 2", best.Params["x"])
	}
}

func TestGridSearchMissingMetric(t *testing.T) {
	g, _ := NewGridSearch([]string{"x"}, [][]float64{{1}}, Minimize)
	_, trials, err := g.Search(context.Background(), quadratic, "nope")
	if err == nil {
		t.Fatal("expected error when no point succeeds")
	}
	if trials[0].Err == nil {
		t.Error("missing metric not recorded")
	}
}

func TestGridSearchCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g, _ := NewGridSearch([]string{"x"}, [][]float64{{1, 2, 3}}, Minimize)

	calls := 0
	_, _, err := g.Search(ctx, func(ctx context.Context, p map[string]float64) (*dynamo.Result, error) {
		calls++
		cancel()
		return nil, ctx.Err()
	}, "v")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestNewGridSearchRejects(t *testing.T) {
	if _, err := NewGridSearch([]string{"x"}, nil, Minimize); err == nil {
		t.Error("expected mismatch error")
	}
	if _, err := NewGridSearch([]string{"x"}, [][]float64{{}}, Minimize); err == nil {
		t.Error("expected empty range error")
	}
}
