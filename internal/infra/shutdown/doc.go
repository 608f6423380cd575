// Package shutdown coordinates graceful process termination.
//
// Components register named hooks as they start; on SIGINT, SIGTERM or
// cancellation of the wait context the hooks run in reverse order under
// a shared timeout, so the last component started is the first stopped.
package shutdown
