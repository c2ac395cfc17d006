package testing

import (
	"io"
	"os"
	"testing"

	"github.com/marmos91/dittomount/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunMountTests checks mount idempotence and the root directory.
func (suite *BackendTestSuite) RunMountTests(t *testing.T) {
	t.Run("Idempotent", func(t *testing.T) {
		b := suite.mounted(t)
		require.NoError(t, b.Mount(testContext()))
	})

	t.Run("RootIsDirectory", func(t *testing.T) {
		b := suite.mounted(t)
		st, err := b.Lstat(testContext(), "/")
		require.NoError(t, err)
		assert.True(t, st.IsDir())
	})

	t.Run("EmptyRoot", func(t *testing.T) {
		b := suite.mounted(t)
		assert.Empty(t, listDir(t, b, "/"))
	})
}

// RunFileTests executes all file handle tests.
func (suite *BackendTestSuite) RunFileTests(t *testing.T) {
	t.Run("WriteThenRead", suite.testWriteThenRead)
	t.Run("OpenMissing", suite.testOpenMissing)
	t.Run("CreateInMissingParent", suite.testCreateInMissingParent)
	t.Run("CreateUnderFile", suite.testCreateUnderFile)
	t.Run("ExclusiveCreate", suite.testExclusiveCreate)
	t.Run("Truncate", suite.testTruncateOnOpen)
	t.Run("Append", suite.testAppend)
	t.Run("Seek", suite.testSeek)
	t.Run("SparseWrite", suite.testSparseWrite)
	t.Run("FtruncateHandle", suite.testFtruncate)
	t.Run("OpenDirectoryAsFile", suite.testOpenDirectoryAsFile)
	t.Run("Unlink", suite.testUnlink)
	t.Run("UnlinkDirectory", suite.testUnlinkDirectory)
}

func (suite *BackendTestSuite) testWriteThenRead(t *testing.T) {
	b := suite.mounted(t)

	writeFile(t, b, "/hello.txt", []byte("hello, world"))

	assert.Equal(t, []byte("hello, world"), readFile(t, b, "/hello.txt"))

	st, err := b.Lstat(testContext(), "/hello.txt")
	require.NoError(t, err)
	assert.False(t, st.IsDir())
	assert.EqualValues(t, 12, st.Size)
}

func (suite *BackendTestSuite) testOpenMissing(t *testing.T) {
	b := suite.mounted(t)
	_, err := b.Open(testContext(), "/missing", vfs.OpenFlags(os.O_RDONLY), 0)
	AssertErrorIs(t, vfs.ErrNotFound, err)

	_, err = b.Lstat(testContext(), "/missing")
	AssertErrorIs(t, vfs.ErrNotFound, err)
}

func (suite *BackendTestSuite) testCreateInMissingParent(t *testing.T) {
	b := suite.mounted(t)
	_, err := b.Open(testContext(), "/nodir/file", vfs.OpenFlags(os.O_WRONLY|os.O_CREATE), 0o644)
	AssertErrorIs(t, vfs.ErrNotFound, err)
}

func (suite *BackendTestSuite) testCreateUnderFile(t *testing.T) {
	b := suite.mounted(t)
	writeFile(t, b, "/plain", []byte("x"))
	_, err := b.Open(testContext(), "/plain/child", vfs.OpenFlags(os.O_WRONLY|os.O_CREATE), 0o644)
	AssertErrorIs(t, vfs.ErrNotDir, err)
}

func (suite *BackendTestSuite) testExclusiveCreate(t *testing.T) {
	b := suite.mounted(t)
	flags := vfs.OpenFlags(os.O_WRONLY | os.O_CREATE | os.O_EXCL)

	f, err := b.Open(testContext(), "/once", flags, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = b.Open(testContext(), "/once", flags, 0o644)
	AssertErrorIs(t, vfs.ErrExists, err)
}

func (suite *BackendTestSuite) testTruncateOnOpen(t *testing.T) {
	b := suite.mounted(t)
	writeFile(t, b, "/t", []byte("a long first version"))
	writeFile(t, b, "/t", []byte("short"))
	assert.Equal(t, []byte("short"), readFile(t, b, "/t"))
}

func (suite *BackendTestSuite) testAppend(t *testing.T) {
	b := suite.mounted(t)
	writeFile(t, b, "/log", []byte("one\n"))

	f, err := b.Open(testContext(), "/log", vfs.OpenFlags(os.O_WRONLY|os.O_APPEND), 0)
	require.NoError(t, err)
	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = f.(vfs.FileWriter).Write(testContext(), []byte("two\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, []byte("one\ntwo\n"), readFile(t, b, "/log"))
}

func (suite *BackendTestSuite) testSeek(t *testing.T) {
	b := suite.mounted(t)
	writeFile(t, b, "/digits", []byte("0123456789"))

	f, err := b.Open(testContext(), "/digits", vfs.OpenFlags(os.O_RDONLY), 0)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	pos, err := f.Seek(-3, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 7, pos)

	buf := make([]byte, 8)
	n, err := f.Read(testContext(), buf)
	require.NoError(t, err)
	assert.Equal(t, "789", string(buf[:n]))

	n, err = f.Read(testContext(), buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	pos, err = f.Seek(2, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 2, pos)
	pos, err = f.Seek(3, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 5, pos)

	_, err = f.Seek(-1, io.SeekStart)
	AssertErrorIs(t, vfs.ErrInvalidArgument, err)
}

func (suite *BackendTestSuite) testSparseWrite(t *testing.T) {
	b := suite.mounted(t)

	f, err := b.Open(testContext(), "/sparse", vfs.OpenFlags(os.O_RDWR|os.O_CREATE), 0o644)
	require.NoError(t, err)
	_, err = f.Seek(4, io.SeekStart)
	require.NoError(t, err)
	_, err = f.(vfs.FileWriter).Write(testContext(), []byte("x"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, []byte{0, 0, 0, 0, 'x'}, readFile(t, b, "/sparse"))
}

func (suite *BackendTestSuite) testFtruncate(t *testing.T) {
	b := suite.mounted(t)
	writeFile(t, b, "/f", []byte("abcdef"))

	f, err := b.Open(testContext(), "/f", vfs.OpenFlags(os.O_RDWR), 0)
	require.NoError(t, err)
	tr, ok := f.(vfs.FileTruncater)
	require.True(t, ok, "writable backend handle must implement FileTruncater")
	require.NoError(t, tr.Truncate(testContext(), 2))

	st, err := f.Stat(testContext())
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.Size)
	require.NoError(t, f.Close())

	assert.Equal(t, []byte("ab"), readFile(t, b, "/f"))
}

func (suite *BackendTestSuite) testOpenDirectoryAsFile(t *testing.T) {
	b := suite.mounted(t)
	mkdir(t, b, "/d")
	_, err := b.Open(testContext(), "/d", vfs.OpenFlags(os.O_RDONLY), 0)
	AssertErrorIs(t, vfs.ErrIsDir, err)
}

func (suite *BackendTestSuite) testUnlink(t *testing.T) {
	b := suite.mounted(t)
	writeFile(t, b, "/gone", []byte("bye"))

	u, ok := b.(vfs.Unlinker)
	require.True(t, ok)
	require.NoError(t, u.Unlink(testContext(), "/gone"))

	_, err := b.Lstat(testContext(), "/gone")
	AssertErrorIs(t, vfs.ErrNotFound, err)

	err = u.Unlink(testContext(), "/gone")
	AssertErrorIs(t, vfs.ErrNotFound, err)
}

func (suite *BackendTestSuite) testUnlinkDirectory(t *testing.T) {
	b := suite.mounted(t)
	mkdir(t, b, "/d")
	err := b.(vfs.Unlinker).Unlink(testContext(), "/d")
	AssertErrorIs(t, vfs.ErrIsDir, err)
}
