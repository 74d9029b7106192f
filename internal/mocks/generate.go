// Package mocks provides mock implementations for testing the orchestration services.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our store interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockStore := mocks.NewMockJobStore(ctrl)
//	mockStore.EXPECT().Get(gomock.Any(), jobID).Return(job, nil)
package mocks

// Generate mock for JobStore interface from internal/core package.
// This creates MockJobStore with methods for all JobStore interface methods:
// Create, Get, Update, TryClaim, ListForProject, ListPending, Cleanup, SweepIndexes
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_store_mock.go github.com/codeforge/forge/internal/core JobStore

// Generate mock for the Step interface so service tests can script
// per-node behavior without function plumbing.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=step_mock.go github.com/codeforge/forge/internal/core Step
