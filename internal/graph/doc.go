// Package graph holds the layer composition graph the update walkers
// traverse.
//
// Nodes live in an arena and are addressed by NodeID; a node stores the
// ID of its parent rather than a pointer. Layers (paint, group and
// adjustment) keep their child layers bottom to top and their masks in a
// separate list. Every structural or geometric edit bumps a sequence
// number, which walkers use to detect that a collected update is stale.
//
// The rect rules describe how a node transforms dirty areas:
//
//   - ChangeRect: the pixels whose output changes when the input changes in r.
//   - NeedRect: the pixels of the input that must be read to recompute r.
//   - AccessRect: pixels read outside NeedRect (displacement-like filters).
//   - NeedRectForOriginal: what a layer's masks need from its original.
package graph
