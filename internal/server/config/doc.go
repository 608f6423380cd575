// Package config holds the server settings: the ServerConfig tree with
// its koanf tags, Default, and Verify, which also creates the data, feed
// and sink directories. Sanitize returns a copy fit for logging.
package config
