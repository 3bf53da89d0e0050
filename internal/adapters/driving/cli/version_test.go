package cli

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func setVersion(t *testing.T, v string) {
	t.Helper()
	original := version
	version = v
	t.Cleanup(func() {
		version = original
		versionShort = false
	})
}

func TestVersion(t *testing.T) {
	setVersion(t, "1.4.0")

	out := mustRun(t, "version")

	assert.Contains(t, out, "ledgersync version 1.4.0")
	assert.Contains(t, out, "go:     "+runtime.Version())
}

func TestVersion_DevByDefault(t *testing.T) {
	setVersion(t, "dev")

	assert.Contains(t, mustRun(t, "version"), "ledgersync version dev")
}

func TestVersion_Short(t *testing.T) {
	setVersion(t, "1.4.0")

	out := mustRun(t, "version", "--short")

	assert.Equal(t, "1.4.0", strings.TrimSpace(out))
}

func TestVersion_RejectsArgs(t *testing.T) {
	setVersion(t, "1.4.0")

	_, _, err := run(t, "version", "extra")
	assert.Error(t, err)
}
