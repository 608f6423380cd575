// Package ingest implements the upload protocol handlers.
//
// The Gateway accepts one WebSocket per session or partition, parses the
// request path and dispatches:
//
//	/<session>                    ContextHandler
//	/<session>/<page>[/<action>]  PartitionHandler
//
// ContextHandler issues the session's master secret, stores the upload
// metadata and fires the completion hook. PartitionHandler derives the
// partition's log identity, replicates verified blocks, writes each one
// through to the Sink before evicting it, audits the log on sync and hands
// the log's storage to the garbage collector.
//
// Handlers return errors; the Gateway maps them to close codes and passes
// the ones that point at the host environment to the ErrorReporter.
package ingest
