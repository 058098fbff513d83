package viz

import (
	"math"

	"github.com/san-kum/nbodycl/internal/dynamo"
)

// Camera rotates a particle cloud about its center and projects it
// orthographically onto a canvas.
type Camera struct {
	RotX, RotY float64
	Zoom       float64
}

func NewCamera() *Camera {
	return &Camera{Zoom: 1.0}
}

func (c *Camera) RotateX(a float64) { c.RotX += a }
func (c *Camera) RotateY(a float64) { c.RotY += a }
func (c *Camera) ZoomIn()           { c.Zoom = math.Min(10, c.Zoom*1.2) }
func (c *Camera) ZoomOut()          { c.Zoom = math.Max(0.1, c.Zoom/1.2) }

func (c *Camera) rotate(x, y, z float64) (float64, float64, float64) {
	cx, sx := math.Cos(c.RotX), math.Sin(c.RotX)
	y, z = y*cx-z*sx, y*sx+z*cx
	cy, sy := math.Cos(c.RotY), math.Sin(c.RotY)
	x, z = x*cy+z*sy, -x*sy+z*cy
	return x, y, z
}

// Scatter draws every position onto the canvas. The cloud is centered on
// its bounding box and scaled so its bounding sphere fits the shorter side.
// It returns the number of points that landed on the canvas.
func Scatter(cv *Canvas, cam *Camera, positions []dynamo.Vec3) int {
	if len(positions) == 0 {
		return 0
	}
	lo, hi := bounds(positions)
	cx := (float64(lo.X) + float64(hi.X)) / 2
	cy := (float64(lo.Y) + float64(hi.Y)) / 2
	cz := (float64(lo.Z) + float64(hi.Z)) / 2
	radius := hi.Sub(lo).Norm() / 2
	if radius == 0 {
		radius = 1
	}

	w, h := cv.Dots()
	half := math.Min(float64(w), float64(h)) / 2
	scale := half / radius * cam.Zoom

	drawn := 0
	for _, p := range positions {
		x, y, _ := cam.rotate(float64(p.X)-cx, float64(p.Y)-cy, float64(p.Z)-cz)
		sx := int(math.Round(x*scale)) + w/2
		sy := int(math.Round(-y*scale)) + h/2
		if sx >= 0 && sx < w && sy >= 0 && sy < h {
			cv.Set(sx, sy)
			drawn++
		}
	}
	return drawn
}

func bounds(positions []dynamo.Vec3) (lo, hi dynamo.Vec3) {
	lo, hi = positions[0], positions[0]
	for _, p := range positions[1:] {
		lo.X, hi.X = min(lo.X, p.X), max(hi.X, p.X)
		lo.Y, hi.Y = min(lo.Y, p.Y), max(hi.Y, p.Y)
		lo.Z, hi.Z = min(lo.Z, p.Z), max(hi.Z, p.Z)
	}
	return lo, hi
}
