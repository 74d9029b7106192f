//go:build tools
// +build tools

// Package tools documents development tool dependencies.
// These tools are invoked via `go run` with pinned versions (see the
// go:generate directives in internal/mocks) or installed globally, so
// they are not tracked in go.mod as runtime dependencies.
package tools

// Development tools:
//
// mockgen - gomock source generator
//   Invoked: go generate ./internal/mocks (pinned at v0.6.0)
//   Docs: https://github.com/uber-go/mock
//
// golangci-lint - lint aggregator
//   Install: go install github.com/golangci/golangci-lint/cmd/golangci-lint@v1.64.8
//   Docs: https://golangci-lint.run
