// Package workerpool runs background tasks on a fixed number of
// goroutines.
//
// A Pool is owned by whoever creates it and is passed by reference to the
// components that submit work. Close stops intake and waits for queued and
// in-flight tasks to finish.
//
// RunBatch is the companion for fan-out work inside a single task: it runs
// fn over every item with bounded parallelism and records each item's
// error instead of aborting the batch on the first one.
package workerpool
