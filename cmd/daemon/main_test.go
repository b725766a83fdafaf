package main

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryIntervalUsesConfiguredHours(t *testing.T) {
	assert.Equal(t, 3*time.Hour, retryInterval(3))
}

func TestRetryIntervalFallsBackToSixHours(t *testing.T) {
	assert.Equal(t, 6*time.Hour, retryInterval(0))
	assert.Equal(t, 6*time.Hour, retryInterval(-1))
}

func TestFirstOrEmpty(t *testing.T) {
	assert.Equal(t, "first", firstOrEmpty([]string{"first", "second"}))
	assert.Equal(t, "", firstOrEmpty(nil))
}

func TestEnvOrDefaultPrefersEnvironment(t *testing.T) {
	t.Setenv("ATLASARR_TEST_VALUE", "from-env")
	assert.Equal(t, "from-env", envOrDefault("ATLASARR_TEST_VALUE", "fallback"))

	os.Unsetenv("ATLASARR_TEST_VALUE")
	assert.Equal(t, "fallback", envOrDefault("ATLASARR_TEST_VALUE", "fallback"))
}
