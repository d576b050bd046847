package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_SemverOrDev(t *testing.T) {
	if Version == "dev" {
		return
	}
	semver := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	assert.Regexp(t, semver, Version)
}

func TestString(t *testing.T) {
	s := String()
	assert.Contains(t, s, "fusesearch "+Version)
	assert.Contains(t, s, "commit: "+Commit)
	assert.Contains(t, s, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestGetInfo_JSON(t *testing.T) {
	data, err := json.Marshal(GetInfo())
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, Version, decoded["version"])
	assert.Equal(t, runtime.GOOS, decoded["os"])
	assert.Equal(t, runtime.GOARCH, decoded["arch"])
	assert.Equal(t, GoVersion, decoded["go_version"])
}
