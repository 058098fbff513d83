// Package kernel implements the direct-summation gravity kernel.
//
// Each work item q computes
//
//	a[q] = G * sum_j m[j] * (p[j] - p[q]) / (|p[j] - p[q]|^2 + eps)^(3/2)
//
// over all n particles, including q itself, whose term is exactly zero. Work
// items share no mutable state and write only their own output slot, so any
// partition of [0, n) across workers gives the same result.
//
// The arithmetic is single precision throughout. [ForceSignature] describes
// the argument list the host binds before a dispatch.
package kernel
