// Package dynamo provides the core value types shared by every stage of a
// simulation step.
//
//   - [Vec3] and [Particle]: padded single-precision records whose memory
//     layout matches staged device buffers
//   - [RunConfig]: the per-run configuration handed to the run controller
//   - [StageError]: an error tagged with the phase that produced it
//
// # Layout
//
// Vec3 is 16 bytes (three float32 plus one padding word) and Particle is two
// Vec3 back to back. Code that stages buffers relies on these sizes; see
// [Vec3Size] and [ParticleSize].
package dynamo
