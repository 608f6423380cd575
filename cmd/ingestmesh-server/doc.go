// Command ingestmesh-server accepts resumable uploads over WebSocket.
//
// Clients negotiate a session on a context connection, then replicate
// each partition as a signed block log on its own connection. Verified
// blocks are written through to the file sink, or dropped after
// verification when no sink directory is configured.
//
// Usage:
//
//	ingestmesh-server [--config FILE] [--log-level LEVEL] [serve]
//	ingestmesh-server version
package main
