package compute

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/kernel"
	"github.com/san-kum/nbodycl/internal/particle"
)

// minChunk is the smallest number of work items handed to one goroutine.
const minChunk = 16

// EmulatorQueue runs work items on host goroutines.
type EmulatorQueue struct {
	workers int

	mu       sync.Mutex
	inflight *errgroup.Group
	released bool
}

type emuBuffer struct {
	store    []float32
	data     []byte
	access   kernel.Access
	released bool
}

func (b *emuBuffer) Size() int             { return len(b.data) }
func (b *emuBuffer) Access() kernel.Access { return b.access }

func (b *emuBuffer) Release() error {
	b.released = true
	b.store = nil
	b.data = nil
	return nil
}

type emuKernel struct {
	sig    kernel.Signature
	params kernel.Params
	args   []any
}

func NewEmulator(opts Options) *Runtime {
	opts = opts.withDefaults()
	return &Runtime{
		Queue: &EmulatorQueue{workers: opts.Workers},
		Kernel: &emuKernel{
			sig:    kernel.ForceSignature,
			params: opts.Params,
			args:   make([]any, len(kernel.ForceSignature.Args)),
		},
	}
}

func (q *EmulatorQueue) Name() string { return fmt.Sprintf("emulator (%d workers)", q.workers) }

func (q *EmulatorQueue) Alloc(size int, access kernel.Access) (Buffer, error) {
	if q.isReleased() {
		return nil, dynamo.ErrReleased
	}
	if size <= 0 {
		return nil, fmt.Errorf("compute: invalid buffer size %d", size)
	}
	store := make([]float32, (size+3)/4)
	return &emuBuffer{
		store:  store,
		data:   particle.Float32Bytes(store)[:size],
		access: access,
	}, nil
}

func (q *EmulatorQueue) Write(dst Buffer, src []byte) error {
	b, err := q.buffer(dst)
	if err != nil {
		return err
	}
	if len(src) > len(b.data) {
		return fmt.Errorf("%w: write of %d bytes into %d byte buffer", dynamo.ErrSizeMismatch, len(src), len(b.data))
	}
	copy(b.data, src)
	return nil
}

func (q *EmulatorQueue) Read(src Buffer, dst []byte) error {
	b, err := q.buffer(src)
	if err != nil {
		return err
	}
	if len(dst) > len(b.data) {
		return fmt.Errorf("%w: read of %d bytes from %d byte buffer", dynamo.ErrSizeMismatch, len(dst), len(b.data))
	}
	copy(dst, b.data)
	return nil
}

func (q *EmulatorQueue) buffer(buf Buffer) (*emuBuffer, error) {
	if q.isReleased() {
		return nil, dynamo.ErrReleased
	}
	if q.busy() {
		return nil, ErrUnfenced
	}
	b, ok := buf.(*emuBuffer)
	if !ok {
		return nil, ErrForeignHandle
	}
	if b.released {
		return nil, dynamo.ErrReleased
	}
	return b, nil
}

// Dispatch validates the bound arguments and starts global work items split
// into contiguous chunks, one goroutine per chunk.
func (q *EmulatorQueue) Dispatch(k Kernel, global int) error {
	if q.isReleased() {
		return dynamo.ErrReleased
	}
	ek, ok := k.(*emuKernel)
	if !ok {
		return ErrForeignHandle
	}
	n, m, p, a, err := ek.resolve(global)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight != nil {
		return ErrUnfenced
	}

	workers := q.workers
	if global/minChunk < workers {
		workers = global / minChunk
	}
	if workers < 1 {
		workers = 1
	}
	chunkSize := (global + workers - 1) / workers

	g := new(errgroup.Group)
	g.SetLimit(workers)
	params := ek.params
	for start := 0; start < global; start += chunkSize {
		end := start + chunkSize
		if end > global {
			end = global
		}
		s, e := start, end
		g.Go(func() error {
			kernel.Range(s, e, n, m, p, a, params)
			return nil
		})
	}
	q.inflight = g
	return nil
}

func (q *EmulatorQueue) Finish() error {
	q.mu.Lock()
	g := q.inflight
	q.mu.Unlock()
	if g == nil {
		return nil
	}
	err := g.Wait()
	q.mu.Lock()
	q.inflight = nil
	q.mu.Unlock()
	return err
}

func (q *EmulatorQueue) Release() error {
	err := q.Finish()
	q.mu.Lock()
	q.released = true
	q.mu.Unlock()
	return err
}

func (q *EmulatorQueue) busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight != nil
}

func (q *EmulatorQueue) isReleased() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.released
}

func (k *emuKernel) Name() string                { return k.sig.Name }
func (k *emuKernel) Signature() kernel.Signature { return k.sig }

func (k *emuKernel) Release() error {
	k.args = nil
	return nil
}

func (k *emuKernel) SetArg(index int, value any) error {
	if k.args == nil {
		return dynamo.ErrReleased
	}
	if index < 0 || index >= len(k.sig.Args) {
		return fmt.Errorf("%w: index %d out of range for %s", ErrArgType, index, k.sig.Name)
	}
	decl := k.sig.Args[index]

	switch decl.Kind {
	case kernel.Scalar:
		switch v := value.(type) {
		case int32:
			k.args[index] = v
		case int:
			k.args[index] = int32(v)
		default:
			return fmt.Errorf("%w: %s wants int32, got %T", ErrArgType, decl.Name, value)
		}
	case kernel.Buffer:
		b, ok := value.(*emuBuffer)
		if !ok {
			return fmt.Errorf("%w: %s wants an emulator buffer, got %T", ErrArgType, decl.Name, value)
		}
		if b.released {
			return dynamo.ErrReleased
		}
		if !b.access.Allows(decl.Access) {
			return fmt.Errorf("%w: %s is %s, buffer is %s", ErrArgType, decl.Name, decl.Access, b.access)
		}
		k.args[index] = b
	}
	return nil
}

// resolve checks every argument is bound and every buffer holds at least n
// elements; the work items themselves do no bounds checking.
func (k *emuKernel) resolve(global int) (int, []float32, []dynamo.Vec3, []dynamo.Vec3, error) {
	if k.args == nil {
		return 0, nil, nil, nil, dynamo.ErrReleased
	}
	for i, v := range k.args {
		if v == nil {
			return 0, nil, nil, nil, fmt.Errorf("%w: %s", ErrUnbound, k.sig.Args[i].Name)
		}
	}

	n := int(k.args[kernel.ArgCount].(int32))
	if n <= 0 {
		return 0, nil, nil, nil, fmt.Errorf("%w: n=%d", dynamo.ErrInvalidCount, n)
	}
	if global <= 0 || global > n {
		return 0, nil, nil, nil, fmt.Errorf("%w: %d work items for %d particles", dynamo.ErrSizeMismatch, global, n)
	}

	bufs := make([]*emuBuffer, 0, 3)
	for _, idx := range []int{kernel.ArgMasses, kernel.ArgPositions, kernel.ArgAccelerations} {
		b := k.args[idx].(*emuBuffer)
		if b.released {
			return 0, nil, nil, nil, dynamo.ErrReleased
		}
		if need := n * k.sig.Args[idx].Elem; len(b.data) < need {
			return 0, nil, nil, nil, fmt.Errorf("%w: %s holds %d bytes, need %d",
				dynamo.ErrSizeMismatch, k.sig.Args[idx].Name, len(b.data), need)
		}
		bufs = append(bufs, b)
	}

	m := particle.BytesFloat32(bufs[0].data)
	p := particle.BytesVec3(bufs[1].data)
	a := particle.BytesVec3(bufs[2].data)
	if m == nil || p == nil || a == nil {
		return 0, nil, nil, nil, errors.New("compute: empty device buffer")
	}
	return n, m, p, a, nil
}
