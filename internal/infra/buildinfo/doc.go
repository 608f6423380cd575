// Package buildinfo reports the version of the running binary. Release
// builds inject the values:
//
//	go build -ldflags "-X github.com/yndnr/ingestmesh/internal/infra/buildinfo.Version=v1.0.0"
package buildinfo
