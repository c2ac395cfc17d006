package testing

import (
	"testing"
	"time"

	"github.com/marmos91/dittomount/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunAttributeTests covers times and filesystem statistics.
func (suite *BackendTestSuite) RunAttributeTests(t *testing.T) {
	t.Run("SetTimes", suite.testSetTimes)
	t.Run("SetTimesMissing", suite.testSetTimesMissing)
	t.Run("StatFS", suite.testStatFS)
}

func (suite *BackendTestSuite) testSetTimes(t *testing.T) {
	b := suite.mounted(t)
	writeFile(t, b, "/f", []byte("x"))

	ts, ok := b.(vfs.TimeSetter)
	require.True(t, ok, "backend must implement TimeSetter")

	when := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, ts.SetTimes(testContext(), "/f", when, when))

	st, err := b.Lstat(testContext(), "/f")
	require.NoError(t, err)
	assert.WithinDuration(t, when, st.Mtime, time.Second)
	assert.WithinDuration(t, when, st.Atime, time.Second)
}

func (suite *BackendTestSuite) testSetTimesMissing(t *testing.T) {
	b := suite.mounted(t)
	when := time.Now()
	err := b.(vfs.TimeSetter).SetTimes(testContext(), "/missing", when, when)
	AssertErrorIs(t, vfs.ErrNotFound, err)
}

func (suite *BackendTestSuite) testStatFS(t *testing.T) {
	b := suite.mounted(t)
	sf, ok := b.(vfs.StatFSer)
	require.True(t, ok, "backend must implement StatFSer")

	st, err := sf.StatFS(testContext(), "/")
	require.NoError(t, err)
	assert.NotZero(t, st.BlockSize)
	assert.NotZero(t, st.Blocks)
	assert.LessOrEqual(t, st.BlocksFree, st.Blocks)
	assert.LessOrEqual(t, st.BlocksAvail, st.BlocksFree)
	assert.EqualValues(t, vfs.NameMax, st.NameMax)
	assert.False(t, st.ReadOnly)
}
