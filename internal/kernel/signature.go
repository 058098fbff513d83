package kernel

import (
	"fmt"
	"strings"
)

// StorageClass tags where a kernel argument lives on the device.
type StorageClass int

const (
	Private StorageClass = iota
	Global
	Constant
	Local
)

func (s StorageClass) String() string {
	switch s {
	case Private:
		return "private"
	case Global:
		return "global"
	case Constant:
		return "constant"
	case Local:
		return "local"
	default:
		return fmt.Sprintf("storage(%d)", int(s))
	}
}

// Access is the intended access pattern of a buffer argument for one dispatch.
type Access int

const (
	ReadOnly Access = iota + 1
	WriteOnly
	ReadWrite
)

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "read-only"
	case WriteOnly:
		return "write-only"
	case ReadWrite:
		return "read-write"
	default:
		return "scalar"
	}
}

// Allows reports whether a buffer allocated with a can be bound to a slot
// declared with want.
func (a Access) Allows(want Access) bool {
	return a == want || a == ReadWrite
}

type ArgKind int

const (
	Scalar ArgKind = iota
	Buffer
)

// Arg describes one kernel parameter.
type Arg struct {
	Name    string
	Kind    ArgKind
	Storage StorageClass
	Access  Access
	// Elem is the element size in bytes of a buffer argument, or the size of
	// a scalar.
	Elem int
}

type Signature struct {
	Name string
	Args []Arg
}

func (s Signature) String() string {
	parts := make([]string, len(s.Args))
	for i, a := range s.Args {
		if a.Kind == Scalar {
			parts[i] = fmt.Sprintf("%s %s", a.Storage, a.Name)
			continue
		}
		parts[i] = fmt.Sprintf("%s %s %s[]", a.Storage, a.Access, a.Name)
	}
	return s.Name + "(" + strings.Join(parts, ", ") + ")"
}

const (
	ArgCount = iota
	ArgMasses
	ArgPositions
	ArgAccelerations
)

// ForceName is the entry point name of the compiled force kernel.
const ForceName = "nbody_accel"

// ForceSignature describes the force kernel: particle count, read-only
// masses and positions broadcast to every work item, and write-only
// accelerations scattered one slot per work item.
var ForceSignature = Signature{
	Name: ForceName,
	Args: []Arg{
		{Name: "n", Kind: Scalar, Storage: Private, Elem: 4},
		{Name: "m", Kind: Buffer, Storage: Global, Access: ReadOnly, Elem: 4},
		{Name: "p", Kind: Buffer, Storage: Global, Access: ReadOnly, Elem: 16},
		{Name: "a", Kind: Buffer, Storage: Global, Access: WriteOnly, Elem: 16},
	},
}
