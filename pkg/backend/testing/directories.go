package testing

import (
	"testing"

	"github.com/marmos91/dittomount/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunDirectoryTests executes all directory operation tests.
func (suite *BackendTestSuite) RunDirectoryTests(t *testing.T) {
	t.Run("MkdirAndList", suite.testMkdirAndList)
	t.Run("MkdirExisting", suite.testMkdirExisting)
	t.Run("MkdirMissingParent", suite.testMkdirMissingParent)
	t.Run("ListEntriesCarryStat", suite.testListEntriesCarryStat)
	t.Run("Reset", suite.testDirReset)
	t.Run("OpenDirOnFile", suite.testOpenDirOnFile)
	t.Run("Rmdir", suite.testRmdir)
	t.Run("RmdirNotEmpty", suite.testRmdirNotEmpty)
	t.Run("RmdirOnFile", suite.testRmdirOnFile)
}

func (suite *BackendTestSuite) testMkdirAndList(t *testing.T) {
	b := suite.mounted(t)
	mkdir(t, b, "/a")
	mkdir(t, b, "/a/b")
	writeFile(t, b, "/a/file", []byte("1"))

	assert.ElementsMatch(t, []string{"a"}, listDir(t, b, "/"))
	assert.ElementsMatch(t, []string{"b", "file"}, listDir(t, b, "/a"))
	assert.Empty(t, listDir(t, b, "/a/b"))

	st, err := b.Lstat(testContext(), "/a/b")
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}

func (suite *BackendTestSuite) testMkdirExisting(t *testing.T) {
	b := suite.mounted(t)
	mkdir(t, b, "/a")
	err := b.(vfs.DirMaker).Mkdir(testContext(), "/a", 0o755)
	AssertErrorIs(t, vfs.ErrExists, err)
}

func (suite *BackendTestSuite) testMkdirMissingParent(t *testing.T) {
	b := suite.mounted(t)
	err := b.(vfs.DirMaker).Mkdir(testContext(), "/x/y", 0o755)
	AssertErrorIs(t, vfs.ErrNotFound, err)
}

func (suite *BackendTestSuite) testListEntriesCarryStat(t *testing.T) {
	b := suite.mounted(t)
	mkdir(t, b, "/sub")
	writeFile(t, b, "/five", []byte("12345"))

	d, err := b.OpenDir(testContext(), "/")
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	seen := map[string]vfs.Stat{}
	for range 2 {
		e, err := d.Next(testContext())
		require.NoError(t, err)
		seen[e.Name] = e.Stat
	}
	require.Contains(t, seen, "sub")
	require.Contains(t, seen, "five")
	assert.True(t, seen["sub"].IsDir())
	assert.False(t, seen["five"].IsDir())
	assert.EqualValues(t, 5, seen["five"].Size)
}

func (suite *BackendTestSuite) testDirReset(t *testing.T) {
	b := suite.mounted(t)
	writeFile(t, b, "/one", nil)
	writeFile(t, b, "/two", nil)

	d, err := b.OpenDir(testContext(), "/")
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	first := drain(t, d)
	require.Len(t, first, 2)
	assert.Empty(t, drain(t, d))

	require.NoError(t, d.Reset(testContext()))
	assert.ElementsMatch(t, first, drain(t, d))
}

func (suite *BackendTestSuite) testOpenDirOnFile(t *testing.T) {
	b := suite.mounted(t)
	writeFile(t, b, "/f", nil)
	_, err := b.OpenDir(testContext(), "/f")
	AssertErrorIs(t, vfs.ErrNotDir, err)

	_, err = b.OpenDir(testContext(), "/missing")
	AssertErrorIs(t, vfs.ErrNotFound, err)
}

func (suite *BackendTestSuite) testRmdir(t *testing.T) {
	b := suite.mounted(t)
	mkdir(t, b, "/d")
	rm, ok := b.(vfs.DirRemover)
	require.True(t, ok)
	require.NoError(t, rm.Rmdir(testContext(), "/d"))

	_, err := b.Lstat(testContext(), "/d")
	AssertErrorIs(t, vfs.ErrNotFound, err)
}

func (suite *BackendTestSuite) testRmdirNotEmpty(t *testing.T) {
	b := suite.mounted(t)
	mkdir(t, b, "/d")
	writeFile(t, b, "/d/f", nil)
	err := b.(vfs.DirRemover).Rmdir(testContext(), "/d")
	AssertErrorIs(t, vfs.ErrNotEmpty, err)
}

func (suite *BackendTestSuite) testRmdirOnFile(t *testing.T) {
	b := suite.mounted(t)
	writeFile(t, b, "/f", nil)
	err := b.(vfs.DirRemover).Rmdir(testContext(), "/f")
	AssertErrorIs(t, vfs.ErrNotDir, err)
}
