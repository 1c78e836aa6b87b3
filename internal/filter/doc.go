// Package filter provides filters for adjustment layers and filter masks.
//
//   - Gaussian blur (separable, any pixel size)
//   - Color matrix transformations on 4-byte RGBA pixels
//
// Each filter exposes Spec, which returns the tiled.FilterSpec with the
// margins the update walker needs to schedule it.
package filter
