package version

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.Platform)
	assert.Contains(t, info.Platform, "/")
	assert.NotEmpty(t, info.OS)
	assert.NotEmpty(t, info.Arch)
}

func TestGetInfo_ShortSHA(t *testing.T) {
	origCommit := Commit
	defer func() { Commit = origCommit }()

	Commit = "0123456789abcdef0123456789abcdef01234567"
	assert.Equal(t, "01234567", GetInfo().CommitSHA)

	Commit = "unknown"
	assert.Empty(t, GetInfo().CommitSHA)
}

func TestString(t *testing.T) {
	s := String()
	assert.True(t, strings.HasPrefix(s, ApplicationName+" version "))
	assert.Contains(t, s, GoVersion)
}

func TestString_WithCommit(t *testing.T) {
	origCommit, origTree, origBranch := Commit, TreeState, Branch
	defer func() { Commit, TreeState, Branch = origCommit, origTree, origBranch }()

	Commit = "0123456789abcdef0123456789abcdef01234567"
	TreeState = "dirty"
	Branch = "main"

	s := String()
	assert.Contains(t, s, "01234567*")
	assert.Contains(t, s, "branch: main")
}

func TestShort(t *testing.T) {
	origCommit, origTree := Commit, TreeState
	defer func() { Commit, TreeState = origCommit, origTree }()

	Commit = "unknown"
	assert.Equal(t, Version, Short())

	Commit = "0123456789abcdef0123456789abcdef01234567"
	TreeState = "clean"
	assert.Equal(t, Version+" (01234567)", Short())

	TreeState = "dirty"
	assert.Equal(t, Version+" (01234567*)", Short())
}

func TestJSON(t *testing.T) {
	var info Info
	require.NoError(t, json.Unmarshal([]byte(JSON()), &info))
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, GoVersion, info.GoVersion)
}

func TestIsSnapshotAndIsRelease(t *testing.T) {
	origVersion := Version
	defer func() { Version = origVersion }()

	Version = "dev"
	assert.True(t, IsSnapshot())
	assert.False(t, IsRelease())

	Version = "1.2.3-dev.4-abcd123"
	assert.True(t, IsSnapshot())
	assert.False(t, IsRelease())

	Version = "1.2.3"
	assert.False(t, IsSnapshot())
	assert.True(t, IsRelease())
}
