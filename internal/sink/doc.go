// Package sink provides storage sinks for verified blocks.
package sink
