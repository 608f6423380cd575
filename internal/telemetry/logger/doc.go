// Package logger builds the process-wide *slog.Logger.
//
// Records pass through two layers before reaching the JSON or text
// handler: secret-bearing attributes are replaced with "[redacted]" and a
// connection ID found in the record's context is attached as conn_id. The
// level is shared by every logger New returns and can be changed at run
// time with SetLevel.
package logger
