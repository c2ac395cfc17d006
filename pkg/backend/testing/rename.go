package testing

import (
	"testing"

	"github.com/marmos91/dittomount/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRenameTests executes all rename tests.
func (suite *BackendTestSuite) RunRenameTests(t *testing.T) {
	t.Run("RenameFileInSameDirectory", suite.testRenameFile)
	t.Run("MoveDirectoryWithContents", suite.testRenameSubtree)
	t.Run("ReplaceExistingFile", suite.testRenameReplaceFile)
	t.Run("ReplaceEmptyDirectory", suite.testRenameReplaceEmptyDir)
	t.Run("ErrorNotFound", suite.testRenameNotFound)
	t.Run("ErrorReplaceNonEmptyDirectory", suite.testRenameNonEmptyDir)
	t.Run("ErrorReplaceDirectoryWithFile", suite.testRenameFileOverDir)
	t.Run("ErrorReplaceFileWithDirectory", suite.testRenameDirOverFile)
}

func renamer(t *testing.T, b vfs.Backend) vfs.Renamer {
	t.Helper()
	r, ok := b.(vfs.Renamer)
	require.True(t, ok, "backend must implement Renamer")
	return r
}

func (suite *BackendTestSuite) testRenameFile(t *testing.T) {
	b := suite.mounted(t)
	writeFile(t, b, "/old", []byte("payload"))

	require.NoError(t, renamer(t, b).Rename(testContext(), "/old", "/new"))

	_, err := b.Lstat(testContext(), "/old")
	AssertErrorIs(t, vfs.ErrNotFound, err)
	assert.Equal(t, []byte("payload"), readFile(t, b, "/new"))
}

func (suite *BackendTestSuite) testRenameSubtree(t *testing.T) {
	b := suite.mounted(t)
	mkdir(t, b, "/src")
	mkdir(t, b, "/src/inner")
	writeFile(t, b, "/src/inner/deep", []byte("deep"))
	mkdir(t, b, "/dst")

	require.NoError(t, renamer(t, b).Rename(testContext(), "/src", "/dst/moved"))

	_, err := b.Lstat(testContext(), "/src")
	AssertErrorIs(t, vfs.ErrNotFound, err)
	assert.ElementsMatch(t, []string{"dst"}, listDir(t, b, "/"))
	assert.ElementsMatch(t, []string{"inner"}, listDir(t, b, "/dst/moved"))
	assert.Equal(t, []byte("deep"), readFile(t, b, "/dst/moved/inner/deep"))
}

func (suite *BackendTestSuite) testRenameReplaceFile(t *testing.T) {
	b := suite.mounted(t)
	writeFile(t, b, "/a", []byte("from a"))
	writeFile(t, b, "/b", []byte("from b"))

	require.NoError(t, renamer(t, b).Rename(testContext(), "/a", "/b"))

	assert.Equal(t, []byte("from a"), readFile(t, b, "/b"))
	assert.ElementsMatch(t, []string{"b"}, listDir(t, b, "/"))
}

func (suite *BackendTestSuite) testRenameReplaceEmptyDir(t *testing.T) {
	b := suite.mounted(t)
	mkdir(t, b, "/a")
	writeFile(t, b, "/a/f", nil)
	mkdir(t, b, "/b")

	require.NoError(t, renamer(t, b).Rename(testContext(), "/a", "/b"))
	assert.ElementsMatch(t, []string{"f"}, listDir(t, b, "/b"))
}

func (suite *BackendTestSuite) testRenameNotFound(t *testing.T) {
	b := suite.mounted(t)
	err := renamer(t, b).Rename(testContext(), "/nope", "/other")
	AssertErrorIs(t, vfs.ErrNotFound, err)
}

func (suite *BackendTestSuite) testRenameNonEmptyDir(t *testing.T) {
	b := suite.mounted(t)
	mkdir(t, b, "/a")
	mkdir(t, b, "/b")
	writeFile(t, b, "/b/keep", nil)

	err := renamer(t, b).Rename(testContext(), "/a", "/b")
	AssertErrorIs(t, vfs.ErrNotEmpty, err)
}

func (suite *BackendTestSuite) testRenameFileOverDir(t *testing.T) {
	b := suite.mounted(t)
	writeFile(t, b, "/f", nil)
	mkdir(t, b, "/d")

	err := renamer(t, b).Rename(testContext(), "/f", "/d")
	AssertErrorIs(t, vfs.ErrIsDir, err)
}

func (suite *BackendTestSuite) testRenameDirOverFile(t *testing.T) {
	b := suite.mounted(t)
	mkdir(t, b, "/d")
	writeFile(t, b, "/f", nil)

	err := renamer(t, b).Rename(testContext(), "/d", "/f")
	AssertErrorIs(t, vfs.ErrNotDir, err)
}
