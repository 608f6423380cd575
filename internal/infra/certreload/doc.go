// Package certreload serves a TLS key pair that is reloaded when its
// files change on disk, so certificates can be rotated without a restart.
package certreload
