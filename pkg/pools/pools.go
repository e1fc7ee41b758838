// Package pools provides object pooling for reducing GC pressure.
//
// The sampler allocates minibatch-sized scratch slices every iteration:
// probability vectors, gradient rows, flattened neighbour id lists. These
// pools recycle them across iterations:
//
//   - Float64Pool: K-length probability/gradient vectors
//   - Int32Pool: vertex id lists (minibatch slices, neighbour draws)
package pools
