package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type (
	serverConfig struct {
		Http  *httpConfig
		Cache *cacheConfig
	}
	httpConfig struct {
		Host string
		Port int
	}
	cacheConfig struct {
		MaxEntries int
		Enabled    bool
	}
	multiWordConfig struct {
		PoolSize   int
		CustomerId int
	}
)

func (c *cacheConfig) ApplyDefault() {
	if c.MaxEntries == 0 {
		c.MaxEntries = 128
	}
}

func TestLoad(t *testing.T) {
	t.Run("it should load a flat struct", func(t *testing.T) {
		// GIVEN
		t.Setenv("APP_HOST", "localhost")
		t.Setenv("APP_PORT", "8080")

		// WHEN
		conf, err := Load[httpConfig](WithEnvPrefix("APP"))

		// THEN
		require.NoError(t, err)
		assert.Equal(t, "localhost", conf.Host)
		assert.Equal(t, 8080, conf.Port)
	})

	t.Run("it should load nested structs", func(t *testing.T) {
		// GIVEN
		t.Setenv("SRV_HTTP_HOST", "example.org")
		t.Setenv("SRV_HTTP_PORT", "443")
		t.Setenv("SRV_CACHE_MAX_ENTRIES", "12")

		// WHEN
		conf, err := Load[serverConfig](WithEnvPrefix("SRV"))

		// THEN
		require.NoError(t, err)
		assert.Equal(t, "example.org", conf.Http.Host)
		assert.Equal(t, 443, conf.Http.Port)
		assert.Equal(t, 12, conf.Cache.MaxEntries)
	})

	t.Run("it should allocate nested structs and apply defaults", func(t *testing.T) {
		// GIVEN / WHEN
		conf, err := Load[serverConfig](WithEnvPrefix("EMPTY"))

		// THEN
		require.NoError(t, err)
		require.NotNil(t, conf.Http)
		assert.Equal(t, "", conf.Http.Host)
		assert.Equal(t, 128, conf.Cache.MaxEntries)
	})

	t.Run("it should bind multiple words variables", func(t *testing.T) {
		// GIVEN
		t.Setenv("MW_POOL_SIZE", "4")
		t.Setenv("MW_CUSTOMER_ID", "66")

		// WHEN
		conf, err := Load[multiWordConfig](WithEnvPrefix("MW"))

		// THEN
		require.NoError(t, err)
		assert.Equal(t, 4, conf.PoolSize)
		assert.Equal(t, 66, conf.CustomerId)
	})

	t.Run("it should read dot env files", func(t *testing.T) {
		// GIVEN
		dir := t.TempDir()
		file := filepath.Join(dir, ".env")
		require.NoError(t, os.WriteFile(file, []byte("DOT_POOL_SIZE=9\n"), 0o600))
		t.Cleanup(func() { _ = os.Unsetenv("DOT_POOL_SIZE") })

		// WHEN
		conf, err := Load[multiWordConfig](WithEnvPrefix("DOT"), WithDotEnv(file))

		// THEN
		require.NoError(t, err)
		assert.Equal(t, 9, conf.PoolSize)
	})

	t.Run("it should read a config file", func(t *testing.T) {
		// GIVEN
		dir := t.TempDir()
		file := filepath.Join(dir, "conf.yaml")
		require.NoError(t, os.WriteFile(file, []byte("http:\n  host: from-file\n  port: 81\n"), 0o600))

		// WHEN
		conf, err := Load[serverConfig](WithEnvPrefix("FILE"), WithConfigFile(file))

		// THEN
		require.NoError(t, err)
		assert.Equal(t, "from-file", conf.Http.Host)
		assert.Equal(t, 81, conf.Http.Port)
	})

	t.Run("it should fail on a missing dot env file", func(t *testing.T) {
		// GIVEN / WHEN
		_, err := Load[multiWordConfig](WithDotEnv(filepath.Join(t.TempDir(), "missing.env")))

		// THEN
		require.Error(t, err)
	})
}
