// Package testing provides a conformance suite for writable vfs.Backend
// implementations.
package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittomount/pkg/vfs"
)

// BackendTestSuite is a comprehensive test suite for writable Backend
// implementations. It tests the interface contract, not implementation
// details, so the same assertions run against every backend that claims the
// mutation capabilities.
//
// Usage:
//
//	func TestMyBackend(t *testing.T) {
//	    suite := &backendtesting.BackendTestSuite{
//	        NewBackend: func(t *testing.T) vfs.Backend {
//	            return mybackend.New(t.TempDir())
//	        },
//	    }
//	    suite.Run(t)
//	}
type BackendTestSuite struct {
	// NewBackend creates a fresh, unmounted, empty backend for each test.
	// The suite mounts it and closes it when the test ends.
	NewBackend func(t *testing.T) vfs.Backend
}

// Run executes all tests in the suite.
func (suite *BackendTestSuite) Run(t *testing.T) {
	t.Run("Mount", suite.RunMountTests)
	t.Run("Files", suite.RunFileTests)
	t.Run("Directories", suite.RunDirectoryTests)
	t.Run("Rename", suite.RunRenameTests)
	t.Run("Attributes", suite.RunAttributeTests)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}
