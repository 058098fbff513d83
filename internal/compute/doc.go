// Package compute provides the accelerator runtimes the force kernel is
// dispatched on.
//
// Two backends implement [Queue] and [Kernel]:
//
//   - emulator: work items run on host goroutines; always available
//   - opencl: the kernel in nbody.cl built for the first OpenCL device
//
// # OpenCL
//
// The OpenCL backend is cgo and only compiled with the opencl tag:
//
//	go build -tags opencl ./cmd/nbodycl
//
// Without the tag [OpenOpenCL] returns [ErrOpenCLUnavailable] and "auto"
// selects the emulator.
package compute
