// Package compute holds the pair kernels of a multiblob step and the
// backends that sum them.
//
//   - [Kernel]: Rotne-Prager-Yamakawa blob mobility with no-slip wall
//     corrections and periodic images
//   - [Repulsion]: screened blob-blob repulsion, binned with a [CellList]
//   - [Backend]: serial and cpu implementations of both sums
//
// Select picks a backend by its configuration name:
//
//	b, err := compute.Select("cpu")
//	b.MobilityProduct(kernel, pos, forces, velocities, false)
//
// The cuda backend is recognised but not built in; selecting it returns
// dynamo.ErrBackendUnavailable.
package compute
