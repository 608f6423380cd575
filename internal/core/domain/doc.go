// Package domain holds the values shared by the ingest handlers and the
// session store: session keys, upload metadata, the page and block
// offset arithmetic, and the classified errors that decide how a
// connection is closed.
package domain
