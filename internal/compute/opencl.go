//go:build opencl

package compute

/*
#cgo CFLAGS: -DCL_TARGET_OPENCL_VERSION=120
#cgo !darwin LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL
#include <stdlib.h>
#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif

static int nbody_device_count() {
	cl_uint np = 0;
	if (clGetPlatformIDs(0, NULL, &np) != CL_SUCCESS || np == 0) {
		return 0;
	}
	cl_platform_id plats[8];
	if (np > 8) {
		np = 8;
	}
	clGetPlatformIDs(np, plats, NULL);
	cl_uint total = 0;
	for (cl_uint i = 0; i < np; i++) {
		cl_uint nd = 0;
		if (clGetDeviceIDs(plats[i], CL_DEVICE_TYPE_ALL, 0, NULL, &nd) == CL_SUCCESS) {
			total += nd;
		}
	}
	return (int)total;
}

static cl_int nbody_first_device(cl_device_id *dev) {
	cl_uint np = 0;
	cl_int st = clGetPlatformIDs(0, NULL, &np);
	if (st != CL_SUCCESS) {
		return st;
	}
	if (np == 0) {
		return CL_DEVICE_NOT_FOUND;
	}
	cl_platform_id plats[8];
	if (np > 8) {
		np = 8;
	}
	clGetPlatformIDs(np, plats, NULL);
	for (cl_uint i = 0; i < np; i++) {
		if (clGetDeviceIDs(plats[i], CL_DEVICE_TYPE_ALL, 1, dev, NULL) == CL_SUCCESS) {
			return CL_SUCCESS;
		}
	}
	return CL_DEVICE_NOT_FOUND;
}

static cl_command_queue nbody_create_queue(cl_context ctx, cl_device_id dev, cl_int *status) {
	return clCreateCommandQueue(ctx, dev, 0, status);
}

static cl_program nbody_create_program(cl_context ctx, const char *src, cl_int *status) {
	return clCreateProgramWithSource(ctx, 1, &src, NULL, status);
}

static char *nbody_build_log(cl_program prog, cl_device_id dev) {
	size_t size = 0;
	clGetProgramBuildInfo(prog, dev, CL_PROGRAM_BUILD_LOG, 0, NULL, &size);
	char *log = malloc(size + 1);
	if (log == NULL) {
		return NULL;
	}
	clGetProgramBuildInfo(prog, dev, CL_PROGRAM_BUILD_LOG, size, log, NULL);
	log[size] = 0;
	return log;
}
*/
import "C"

import (
	_ "embed"
	"fmt"
	"strconv"
	"sync"
	"unsafe"

	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/kernel"
)

//go:embed nbody.cl
var forceSource string

type clStatusError struct {
	op   string
	code C.cl_int
}

func (e *clStatusError) Error() string {
	return fmt.Sprintf("opencl: %s failed (status %d)", e.op, int(e.code))
}

func check(op string, code C.cl_int) error {
	if code != C.CL_SUCCESS {
		return &clStatusError{op: op, code: code}
	}
	return nil
}

type clQueue struct {
	ctx   C.cl_context
	dev   C.cl_device_id
	queue C.cl_command_queue
	name  string
	once  sync.Once
}

type clBuffer struct {
	mem    C.cl_mem
	size   int
	access kernel.Access
	once   sync.Once
}

type clKernel struct {
	program C.cl_program
	k       C.cl_kernel
	sig     kernel.Signature
	once    sync.Once
}

func OpenCLAvailable() bool {
	return C.nbody_device_count() > 0
}

// OpenOpenCL creates a context and queue on the first device found and
// builds the force kernel with the softening and G baked in.
func OpenOpenCL(opts Options) (*Runtime, error) {
	opts = opts.withDefaults()

	q := &clQueue{}
	if err := check("clGetDeviceIDs", C.nbody_first_device(&q.dev)); err != nil {
		return nil, err
	}

	var nameBuf [256]C.char
	C.clGetDeviceInfo(q.dev, C.CL_DEVICE_NAME, C.size_t(len(nameBuf)), unsafe.Pointer(&nameBuf[0]), nil)
	q.name = "opencl (" + C.GoString(&nameBuf[0]) + ")"

	var status C.cl_int
	q.ctx = C.clCreateContext(nil, 1, &q.dev, nil, nil, &status)
	if err := check("clCreateContext", status); err != nil {
		return nil, err
	}
	q.queue = C.nbody_create_queue(q.ctx, q.dev, &status)
	if err := check("clCreateCommandQueue", status); err != nil {
		q.Release()
		return nil, err
	}

	k, err := q.build(opts.Params)
	if err != nil {
		q.Release()
		return nil, err
	}
	return &Runtime{Queue: q, Kernel: k}, nil
}

func (q *clQueue) build(p kernel.Params) (*clKernel, error) {
	src := C.CString(forceSource)
	defer C.free(unsafe.Pointer(src))

	var status C.cl_int
	prog := C.nbody_create_program(q.ctx, src, &status)
	if err := check("clCreateProgramWithSource", status); err != nil {
		return nil, err
	}

	flags := C.CString(fmt.Sprintf("-DEPS=%sf -DGRAV=%sf",
		strconv.FormatFloat(float64(p.Softening), 'e', -1, 32),
		strconv.FormatFloat(float64(p.G), 'e', -1, 32)))
	defer C.free(unsafe.Pointer(flags))

	if st := C.clBuildProgram(prog, 1, &q.dev, flags, nil, nil); st != C.CL_SUCCESS {
		log := C.nbody_build_log(prog, q.dev)
		msg := ""
		if log != nil {
			msg = C.GoString(log)
			C.free(unsafe.Pointer(log))
		}
		C.clReleaseProgram(prog)
		return nil, fmt.Errorf("%w:\n%s", &clStatusError{op: "clBuildProgram", code: st}, msg)
	}

	name := C.CString(kernel.ForceName)
	defer C.free(unsafe.Pointer(name))
	k := C.clCreateKernel(prog, name, &status)
	if err := check("clCreateKernel", status); err != nil {
		C.clReleaseProgram(prog)
		return nil, err
	}
	return &clKernel{program: prog, k: k, sig: kernel.ForceSignature}, nil
}

func (q *clQueue) Name() string { return q.name }

func (q *clQueue) Alloc(size int, access kernel.Access) (Buffer, error) {
	if q.queue == nil {
		return nil, dynamo.ErrReleased
	}
	if size <= 0 {
		return nil, fmt.Errorf("compute: invalid buffer size %d", size)
	}

	var flags C.cl_mem_flags
	switch access {
	case kernel.ReadOnly:
		flags = C.CL_MEM_READ_ONLY
	case kernel.WriteOnly:
		flags = C.CL_MEM_WRITE_ONLY
	default:
		flags = C.CL_MEM_READ_WRITE
	}

	var status C.cl_int
	mem := C.clCreateBuffer(q.ctx, flags, C.size_t(size), nil, &status)
	if err := check("clCreateBuffer", status); err != nil {
		return nil, err
	}
	return &clBuffer{mem: mem, size: size, access: access}, nil
}

func (q *clQueue) Write(dst Buffer, src []byte) error {
	b, ok := dst.(*clBuffer)
	if !ok {
		return ErrForeignHandle
	}
	if len(src) == 0 {
		return nil
	}
	if len(src) > b.size {
		return fmt.Errorf("%w: write of %d bytes into %d byte buffer", dynamo.ErrSizeMismatch, len(src), b.size)
	}
	st := C.clEnqueueWriteBuffer(q.queue, b.mem, C.CL_TRUE, 0, C.size_t(len(src)),
		unsafe.Pointer(&src[0]), 0, nil, nil)
	return check("clEnqueueWriteBuffer", st)
}

func (q *clQueue) Read(src Buffer, dst []byte) error {
	b, ok := src.(*clBuffer)
	if !ok {
		return ErrForeignHandle
	}
	if len(dst) == 0 {
		return nil
	}
	if len(dst) > b.size {
		return fmt.Errorf("%w: read of %d bytes from %d byte buffer", dynamo.ErrSizeMismatch, len(dst), b.size)
	}
	st := C.clEnqueueReadBuffer(q.queue, b.mem, C.CL_TRUE, 0, C.size_t(len(dst)),
		unsafe.Pointer(&dst[0]), 0, nil, nil)
	return check("clEnqueueReadBuffer", st)
}

func (q *clQueue) Dispatch(k Kernel, global int) error {
	ck, ok := k.(*clKernel)
	if !ok {
		return ErrForeignHandle
	}
	if global <= 0 {
		return fmt.Errorf("%w: %d work items", dynamo.ErrSizeMismatch, global)
	}
	size := C.size_t(global)
	st := C.clEnqueueNDRangeKernel(q.queue, ck.k, 1, nil, &size, nil, 0, nil, nil)
	return check("clEnqueueNDRangeKernel", st)
}

func (q *clQueue) Finish() error {
	return check("clFinish", C.clFinish(q.queue))
}

func (q *clQueue) Release() error {
	q.once.Do(func() {
		if q.queue != nil {
			C.clFinish(q.queue)
			C.clReleaseCommandQueue(q.queue)
			q.queue = nil
		}
		if q.ctx != nil {
			C.clReleaseContext(q.ctx)
			q.ctx = nil
		}
	})
	return nil
}

func (b *clBuffer) Size() int             { return b.size }
func (b *clBuffer) Access() kernel.Access { return b.access }

func (b *clBuffer) Release() error {
	var err error
	b.once.Do(func() {
		err = check("clReleaseMemObject", C.clReleaseMemObject(b.mem))
		b.mem = nil
	})
	return err
}

func (k *clKernel) Name() string                { return k.sig.Name }
func (k *clKernel) Signature() kernel.Signature { return k.sig }

func (k *clKernel) SetArg(index int, value any) error {
	if k.k == nil {
		return dynamo.ErrReleased
	}
	if index < 0 || index >= len(k.sig.Args) {
		return fmt.Errorf("%w: index %d out of range for %s", ErrArgType, index, k.sig.Name)
	}
	decl := k.sig.Args[index]

	switch decl.Kind {
	case kernel.Scalar:
		var v C.cl_int
		switch n := value.(type) {
		case int32:
			v = C.cl_int(n)
		case int:
			v = C.cl_int(n)
		default:
			return fmt.Errorf("%w: %s wants int32, got %T", ErrArgType, decl.Name, value)
		}
		st := C.clSetKernelArg(k.k, C.cl_uint(index), C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v))
		return check("clSetKernelArg", st)
	default:
		b, ok := value.(*clBuffer)
		if !ok {
			return fmt.Errorf("%w: %s wants an OpenCL buffer, got %T", ErrArgType, decl.Name, value)
		}
		if !b.access.Allows(decl.Access) {
			return fmt.Errorf("%w: %s is %s, buffer is %s", ErrArgType, decl.Name, decl.Access, b.access)
		}
		mem := b.mem
		st := C.clSetKernelArg(k.k, C.cl_uint(index), C.size_t(unsafe.Sizeof(mem)), unsafe.Pointer(&mem))
		return check("clSetKernelArg", st)
	}
}

func (k *clKernel) Release() error {
	k.once.Do(func() {
		if k.k != nil {
			C.clReleaseKernel(k.k)
			k.k = nil
		}
		if k.program != nil {
			C.clReleaseProgram(k.program)
			k.program = nil
		}
	})
	return nil
}
