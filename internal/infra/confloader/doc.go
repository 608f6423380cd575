// Package confloader fills a koanf-tagged struct from layered sources.
// Each Load starts from the struct's current values and applies, in
// order, the YAML file, prefixed environment variables and overrides
// registered with Set. Watcher calls back when the file changes on disk.
package confloader
