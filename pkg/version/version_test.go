package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_FollowsSemverOrDev(t *testing.T) {
	if Version == "dev" {
		return
	}
	semver := regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	require.True(t, semver.MatchString(Version), "got %s", Version)
}

func TestString_ContainsBuildInfo(t *testing.T) {
	str := String()

	assert.Contains(t, str, "tablerag")
	assert.Contains(t, str, Version)
	assert.Contains(t, str, "commit:")
	assert.Contains(t, str, runtime.Version())
}

func TestShort(t *testing.T) {
	assert.Equal(t, Version, Short())
}

func TestGetInfo_JSON(t *testing.T) {
	// Given
	info := GetInfo()

	// When
	data, err := json.Marshal(info)
	require.NoError(t, err)

	// Then
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, key := range []string{"version", "commit", "date", "go_version", "os", "arch"} {
		assert.NotEmpty(t, decoded[key], key)
	}
	assert.Equal(t, runtime.GOOS, decoded["os"])
}

func TestGetInfo_UsesLdflagsCommit(t *testing.T) {
	orig := Commit
	t.Cleanup(func() { Commit = orig })

	Commit = "abc1234"
	assert.Equal(t, "abc1234", GetInfo().Commit)
}
