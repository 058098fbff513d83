package particle

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/san-kum/nbodycl/internal/dynamo"
)

// Pack interleaves the current state into array-of-structs records.
func (b *Buffer) Pack() []dynamo.Particle {
	pos, vel := b.Positions(), b.Velocities()
	out := make([]dynamo.Particle, len(pos))
	for i := range pos {
		out[i] = dynamo.Particle{P: pos[i], V: vel[i]}
	}
	return out
}

// WriteBinary encodes particles little-endian, 32 bytes per record with the
// padding words written as zero.
func WriteBinary(w io.Writer, particles []dynamo.Particle) error {
	clean := make([]dynamo.Particle, len(particles))
	for i, p := range particles {
		p.P.Pad, p.V.Pad = 0, 0
		clean[i] = p
	}
	return binary.Write(w, binary.LittleEndian, clean)
}

func ReadBinary(r io.Reader, n int) ([]dynamo.Particle, error) {
	if n <= 0 {
		return nil, dynamo.ErrInvalidCount
	}
	out := make([]dynamo.Particle, n)
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("read %d particles: %w", n, err)
	}
	return out, nil
}

func WriteMasses(w io.Writer, masses []float32) error {
	return binary.Write(w, binary.LittleEndian, masses)
}

func ReadMasses(r io.Reader, n int) ([]float32, error) {
	if n <= 0 {
		return nil, dynamo.ErrInvalidCount
	}
	out := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("read %d masses: %w", n, err)
	}
	return out, nil
}
