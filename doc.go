// Package tiled is a tiled raster storage engine with an asynchronous
// layer-composition scheduler.
//
// # Overview
//
// An [Image] is a tree of layers. Paint layers own a [Device]: a sparse
// grid of 64x64 pixel tiles with copy-on-write sharing and transactional
// undo. Groups compose their children, adjustment layers filter what lies
// below them and masks post-process a layer's output.
//
// Edits are made through a Device and reported with
// [Image.RequestUpdate]. The update scheduler turns each request into a
// walk over the affected layers and recomposes them on a worker pool.
// Jobs whose areas do not overlap run in parallel.
//
// # Quick Start
//
//	img, _ := tiled.NewImage(1024, 768, []byte{0, 0, 0, 0})
//	defer img.Close()
//
//	layer, _ := img.AddPaintLayer(img.Root(), "background")
//	dev := img.Device(layer)
//	tx := dev.Begin()
//	dev.Fill(image.Rect(0, 0, 1024, 768), []byte{255, 255, 255, 255})
//	tx.End()
//
//	_ = img.RequestUpdate(layer, image.Rect(0, 0, 1024, 768))
//	_ = img.WaitForDone(ctx)
//	px := img.Projection().Pixel(10, 10)
//
// # Strokes
//
// A stroke groups jobs that run in order on the scheduler and are undone
// and redone as one command. See [Image.BeginStroke] and [PaintCommand].
//
// # Pixels
//
// The engine never interprets pixel bytes. Composition goes through a
// [Compositor]; the default [OverwriteCompositor] copies every pixel that
// differs from the default pixel.
package tiled
