package core_test

import (
	"testing"

	"mlsync/testutil"
)

func TestEngineReachesStorageOnlyThroughDomain(t *testing.T) {
	testutil.AssertNoModuleDependency(t, "../..", "internal/core", testutil.StorageImportForbidden,
		"the engine talks to sites through domain.Sites")
}
