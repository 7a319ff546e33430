// Package version reports the build of a meshkit binary. The values are
// stamped at link time and fall back to the module build info:
//
//	go build -ldflags "-X github.com/kbukum/meshkit/version.Version=v0.3.0 \
//	    -X github.com/kbukum/meshkit/version.GitCommit=$(git rev-parse HEAD)" ./cmd/registry
package version
