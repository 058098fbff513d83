//go:build !opencl

package compute

func OpenCLAvailable() bool { return false }

func OpenOpenCL(opts Options) (*Runtime, error) {
	return nil, ErrOpenCLUnavailable
}
