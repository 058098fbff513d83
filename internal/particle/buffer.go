package particle

import (
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/san-kum/nbodycl/internal/dynamo"
)

// Buffer holds the canonical population state between steps. Positions and
// velocities are double buffered: the integrator fills the slices returned
// by Next and Commit swaps them in as the current state.
type Buffer struct {
	n      int
	masses []float32
	pos    [2][]dynamo.Vec3
	vel    [2][]dynamo.Vec3
	cur    int

	once     sync.Once
	released bool
}

// New copies masses and particles into a freshly owned buffer.
func New(masses []float32, particles []dynamo.Particle) (*Buffer, error) {
	n := len(particles)
	if n == 0 {
		return nil, dynamo.ErrInvalidCount
	}
	if len(masses) != n {
		return nil, fmt.Errorf("%w: %d masses for %d particles", dynamo.ErrSizeMismatch, len(masses), n)
	}

	b := alloc(n)
	copy(b.masses, masses)
	for i, p := range particles {
		b.pos[0][i] = p.P
		b.vel[0][i] = p.V
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// FromArrays builds a buffer from parallel mass, position and velocity slices.
func FromArrays(masses []float32, positions, velocities []dynamo.Vec3) (*Buffer, error) {
	n := len(positions)
	if n == 0 {
		return nil, dynamo.ErrInvalidCount
	}
	if len(masses) != n || len(velocities) != n {
		return nil, fmt.Errorf("%w: masses=%d positions=%d velocities=%d",
			dynamo.ErrSizeMismatch, len(masses), n, len(velocities))
	}

	b := alloc(n)
	copy(b.masses, masses)
	copy(b.pos[0], positions)
	copy(b.vel[0], velocities)
	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func alloc(n int) *Buffer {
	return &Buffer{
		n:      n,
		masses: make([]float32, n),
		pos:    [2][]dynamo.Vec3{make([]dynamo.Vec3, n), make([]dynamo.Vec3, n)},
		vel:    [2][]dynamo.Vec3{make([]dynamo.Vec3, n), make([]dynamo.Vec3, n)},
	}
}

func (b *Buffer) validate() error {
	for i := 0; i < b.n; i++ {
		m := float64(b.masses[i])
		if math.IsNaN(m) || math.IsInf(m, 0) {
			return fmt.Errorf("%w: mass %d", dynamo.ErrNonFinite, i)
		}
		if !b.pos[0][i].IsFinite() || !b.vel[0][i].IsFinite() {
			return fmt.Errorf("%w: particle %d", dynamo.ErrNonFinite, i)
		}
	}
	return nil
}

func (b *Buffer) N() int { return b.n }

// Check returns ErrReleased once the buffer has been closed.
func (b *Buffer) Check() error {
	if b.released {
		return dynamo.ErrReleased
	}
	return nil
}

func (b *Buffer) Masses() []float32 {
	if b.released {
		return nil
	}
	return b.masses
}

func (b *Buffer) Positions() []dynamo.Vec3 {
	if b.released {
		return nil
	}
	return b.pos[b.cur]
}

func (b *Buffer) Velocities() []dynamo.Vec3 {
	if b.released {
		return nil
	}
	return b.vel[b.cur]
}

// MassBytes views the mass array as a contiguous byte range.
func (b *Buffer) MassBytes() []byte {
	return Float32Bytes(b.Masses())
}

// PositionBytes views the current positions as a contiguous byte range.
func (b *Buffer) PositionBytes() []byte {
	return Vec3Bytes(b.Positions())
}

// Next returns the slices the integrator writes the next state into. They
// become visible only after Commit.
func (b *Buffer) Next() (positions, velocities []dynamo.Vec3) {
	if b.released {
		return nil, nil
	}
	nxt := 1 - b.cur
	return b.pos[nxt], b.vel[nxt]
}

func (b *Buffer) Commit() {
	if b.released {
		return
	}
	b.cur = 1 - b.cur
}

// Update replaces the whole state in one commit.
func (b *Buffer) Update(positions, velocities []dynamo.Vec3) error {
	if err := b.Check(); err != nil {
		return err
	}
	if len(positions) != b.n || len(velocities) != b.n {
		return fmt.Errorf("%w: want %d, got positions=%d velocities=%d",
			dynamo.ErrSizeMismatch, b.n, len(positions), len(velocities))
	}
	pos, vel := b.Next()
	copy(pos, positions)
	copy(vel, velocities)
	b.Commit()
	return nil
}

// Close drops the backing storage. It is safe to call more than once.
func (b *Buffer) Close() error {
	b.once.Do(func() {
		b.released = true
		b.masses = nil
		b.pos = [2][]dynamo.Vec3{}
		b.vel = [2][]dynamo.Vec3{}
	})
	return nil
}

func Vec3Bytes(v []dynamo.Vec3) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*dynamo.Vec3Size)
}

func Float32Bytes(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*dynamo.MassSize)
}

// BytesVec3 reinterprets a byte range produced by Vec3Bytes. The length must
// be a multiple of Vec3Size and the memory 4-byte aligned.
func BytesVec3(b []byte) []dynamo.Vec3 {
	if len(b) < dynamo.Vec3Size {
		return nil
	}
	return unsafe.Slice((*dynamo.Vec3)(unsafe.Pointer(&b[0])), len(b)/dynamo.Vec3Size)
}

func BytesFloat32(b []byte) []float32 {
	if len(b) < dynamo.MassSize {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/dynamo.MassSize)
}
