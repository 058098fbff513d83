package compute

import (
	"errors"
	"fmt"
	"runtime"
	"sort"

	"github.com/san-kum/nbodycl/internal/kernel"
)

var (
	ErrUnknownBackend = errors.New("compute: unknown backend")
	ErrUnbound        = errors.New("compute: kernel argument not bound")
	ErrArgType        = errors.New("compute: kernel argument has wrong type")
	ErrUnfenced       = errors.New("compute: buffer accessed while a dispatch is in flight")
	ErrForeignHandle  = errors.New("compute: handle belongs to another backend")

	ErrOpenCLUnavailable = errors.New("compute: OpenCL is not available (build with -tags opencl)")
)

// Buffer is device-visible memory owned by a Queue.
type Buffer interface {
	Size() int
	Access() kernel.Access
	Release() error
}

// Kernel is a compiled kernel handle with bindable arguments.
type Kernel interface {
	Name() string
	Signature() kernel.Signature
	SetArg(index int, value any) error
	Release() error
}

// Queue is an in-order execution queue. Write and Read are blocking copies.
// Dispatch enqueues global work items and returns without waiting; Finish
// blocks until every enqueued item has completed.
type Queue interface {
	Name() string
	Alloc(size int, access kernel.Access) (Buffer, error)
	Write(dst Buffer, src []byte) error
	Read(src Buffer, dst []byte) error
	Dispatch(k Kernel, global int) error
	Finish() error
	Release() error
}

type Options struct {
	Workers int
	Params  kernel.Params
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	// A zero Params means unset.
	if o.Params == (kernel.Params{}) {
		o.Params = kernel.DefaultParams()
	}
	return o
}

// Runtime pairs a ready queue with the compiled force kernel.
type Runtime struct {
	Queue  Queue
	Kernel Kernel
}

// Close releases the kernel and then the queue, returning the first error.
func (r *Runtime) Close() error {
	var errs []error
	if r.Kernel != nil {
		errs = append(errs, r.Kernel.Release())
		r.Kernel = nil
	}
	if r.Queue != nil {
		errs = append(errs, r.Queue.Release())
		r.Queue = nil
	}
	return errors.Join(errs...)
}

type opener func(Options) (*Runtime, error)

var backends = map[string]opener{
	"emulator": func(o Options) (*Runtime, error) { return NewEmulator(o), nil },
	"opencl":   OpenOpenCL,
}

// Open builds the named backend. "auto" picks OpenCL when a device is
// present and the emulator otherwise.
func Open(name string, opts Options) (*Runtime, error) {
	opts = opts.withDefaults()
	if name == "" || name == "auto" {
		return AutoSelect(opts)
	}
	fn, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %v)", ErrUnknownBackend, name, Names())
	}
	return fn(opts)
}

func AutoSelect(opts Options) (*Runtime, error) {
	opts = opts.withDefaults()
	if OpenCLAvailable() {
		if rt, err := OpenOpenCL(opts); err == nil {
			return rt, nil
		}
	}
	return NewEmulator(opts), nil
}

func Names() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
