// Package dynamo provides the primitives shared by every stage of a
// multiblob run.
//
//   - [Clock]: step counter advanced once per accepted time step
//   - [RandomStream]: seeded, strictly sequential normal draws
//   - [ParallelFor]: chunked data-parallel loop with a full barrier
//   - [StepError]: wraps a failure with the step and component that raised it
//
// # Thread Safety
//
// Clock and RandomStream are owned by the driving goroutine. Only the body of
// a ParallelFor runs concurrently, and it must not touch either of them.
package dynamo
