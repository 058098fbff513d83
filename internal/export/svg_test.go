package export

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/viz"
)

func TestCanvasToSVGOneCirclePerDot(t *testing.T) {
	cv := viz.NewCanvas(2, 1)
	cv.Set(0, 0)
	cv.Set(3, 3)

	svg := CanvasToSVG(cv, 1)
	if got := strings.Count(svg, "<circle"); got != 2 {
		t.Errorf("circles = %d, want 2", got)
	}
	if !strings.Contains(svg, `width="4" height="4"`) {
		t.Errorf("unexpected svg size:\n%s", svg)
	}
}

func TestCanvasToSVGNil(t *testing.T) {
	if got := CanvasToSVG(nil, 1); got != "" {
		t.Errorf("nil canvas = %q", got)
	}
}

func TestSnapshot(t *testing.T) {
	positions := []dynamo.Vec3{{X: -1}, {X: 1}, {Y: 1}}

	var buf bytes.Buffer
	drawn, err := Snapshot(&buf, positions, nil, 20, 10, 2)
	if err != nil {
		t.Fatal(err)
	}
	if drawn != len(positions) {
		t.Errorf("drawn = %d, want %d", drawn, len(positions))
	}
	if !strings.HasPrefix(buf.String(), "<?xml") {
		t.Errorf("not an svg document")
	}

	if _, err := Snapshot(&buf, positions, nil, 0, 10, 1); err == nil {
		t.Error("expected error for empty canvas")
	}
}

func TestSeriesToSVGSkipsNaN(t *testing.T) {
	nan := math.NaN()
	if got := SeriesToSVG([]float64{nan, 1, nan}, 100, 50, "#fff"); got != "" {
		t.Errorf("single sample should not plot, got %q", got)
	}

	svg := SeriesToSVG([]float64{1, nan, 2, 3}, 100, 50, "#fff")
	if got := strings.Count(svg, " L"); got != 2 {
		t.Errorf("segments = %d, want 2", got)
	}
}
