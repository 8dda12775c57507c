package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("BRIDGE_TEST_STRING", "  value ")
	t.Setenv("BRIDGE_TEST_BOOL", "true")
	t.Setenv("BRIDGE_TEST_INT", "0x10")
	t.Setenv("BRIDGE_TEST_DURATION", "90s")
	t.Setenv("BRIDGE_TEST_BROKEN", "nope")
	t.Setenv("BRIDGE_TEST_BLANK", "   ")

	assert.Equal(t, "value", GetEnvStringOrDefault("BRIDGE_TEST_STRING", "x"))
	assert.Equal(t, "x", GetEnvStringOrDefault("BRIDGE_TEST_BLANK", "x"))
	assert.True(t, GetEnvBoolOrDefault("BRIDGE_TEST_BOOL", false))
	assert.True(t, GetEnvBoolOrDefault("BRIDGE_TEST_BROKEN", true))
	assert.Equal(t, 16, GetEnvIntOrDefault("BRIDGE_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvIntOrDefault("BRIDGE_TEST_BROKEN", 1))
	assert.Equal(t, 90*time.Second, GetEnvDurationOrDefault("BRIDGE_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, GetEnvDurationOrDefault("BRIDGE_TEST_UNSET", time.Second))
}

func TestMustGetEnvStringPanics(t *testing.T) {
	assert.Panics(t, func() { MustGetEnvString("BRIDGE_TEST_UNSET") })

	t.Setenv("BRIDGE_TEST_SECRET", "s3cret")
	assert.Equal(t, "s3cret", MustGetEnvString("BRIDGE_TEST_SECRET"))
}

func TestGetEnvStringEmptyName(t *testing.T) {
	_, err := GetEnvString("")
	assert.Error(t, err)
}
