// Package sched runs image recomposition and stroke work on a fixed pool
// of workers.
//
// Three kinds of work share one queue:
//
//   - update jobs wrap a collected walker (merge or full refresh); they are
//     exclusive, so two updates whose access and change rects cross never
//     run at the same time
//   - spontaneous jobs are one-off callbacks; a newer job with the same name
//     and target replaces a queued older one
//   - stroke jobs belong to a stroke and carry an undoable Command
//
// Candidates are considered in submission order and the first one whose
// constraints are met starts. While processing is blocked, jobs are queued
// but none start.
//
// Workers write-lock the tiles under a job's change rect and read-lock the
// rest of its access rect, always in row-major key order.
package sched
