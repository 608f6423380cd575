// Package gc reclaims temporary storage left behind by finished
// partitions.
//
// A Collector keeps a set of paths pending deletion. Sweeps run on a timer
// or on demand; each sweep snapshots and clears the set, then deletes the
// snapshot as one task on an injected worker pool. At most one sweep is in
// flight. Paths added during a sweep wait for the next one.
//
// Paths whose deletion fails are put back in the set and retried by a
// later sweep. Failures are logged and counted, never returned to
// protocol handlers.
package gc
