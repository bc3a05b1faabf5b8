package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/phrazzld/questgen/internal/config"
	redisstore "github.com/phrazzld/questgen/internal/platform/redis"
	"github.com/phrazzld/questgen/internal/progress"
	"github.com/phrazzld/questgen/internal/queue"
	"github.com/phrazzld/questgen/internal/retrieval"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Queue:    config.QueueConfig{Backend: "memory"},
		Index:    config.IndexConfig{Backend: "memory", Cache: "memory"},
		Progress: config.ProgressConfig{Fanout: "memory", HeartbeatInterval: time.Second, SubscriberBuffer: 8},
		LLM:      config.LLMConfig{EmbeddingDimensions: 8},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSelectBackendsMemory(t *testing.T) {
	b, err := selectBackends(testConfig(), nil, nil, discardLogger())
	require.NoError(t, err)

	assert.IsType(t, &queue.MemoryQueue{}, b.queue)
	assert.IsType(t, &retrieval.MemoryVectorStore{}, b.vectors)
	assert.IsType(t, &retrieval.MemoryCache{}, b.cache)
	assert.IsType(t, &progress.MemoryHub{}, b.fanout)
	assert.Empty(t, b.closers)
}

func TestSelectBackendsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	cfg.Queue.Backend = "redis"
	cfg.Index.Cache = "redis"
	cfg.Progress.Fanout = "redis"

	b, err := selectBackends(cfg, nil, rdb, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &redisstore.Queue{}, b.queue)
	assert.IsType(t, &redisstore.EmbeddingCache{}, b.cache)
	assert.IsType(t, &redisstore.Fanout{}, b.fanout)
}

func TestSelectBackendsErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Progress.Fanout = "redis"
	_, err := selectBackends(cfg, nil, nil, discardLogger())
	assert.Error(t, err, "redis fan-out without a client")

	cfg = testConfig()
	cfg.Queue.Backend = "postgres"
	_, err = selectBackends(cfg, nil, nil, discardLogger())
	assert.Error(t, err, "postgres queue without a database")

	cfg = testConfig()
	cfg.Queue.Backend = "kafka"
	_, err = selectBackends(cfg, nil, nil, discardLogger())
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()

	missing := filepath.Join(dir, "missing.env")
	assert.NoError(t, loadEnvFile(missing, false), "a missing default file is ignored")
	assert.Error(t, loadEnvFile(missing, true), "a missing explicit file fails")
	assert.NoError(t, loadEnvFile("", true))

	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("QUESTGEN_TEST_ENV_FILE=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("QUESTGEN_TEST_ENV_FILE") })

	require.NoError(t, loadEnvFile(path, true))
	assert.Equal(t, "loaded", os.Getenv("QUESTGEN_TEST_ENV_FILE"))
}

func TestMigrateCommandArgs(t *testing.T) {
	assert.NoError(t, migrateCmd.Args(migrateCmd, []string{"up"}))
	assert.NoError(t, migrateCmd.Args(migrateCmd, []string{"status"}))
	assert.Error(t, migrateCmd.Args(migrateCmd, []string{"sideways"}))
	assert.Error(t, migrateCmd.Args(migrateCmd, nil))
	assert.Error(t, migrateCmd.Args(migrateCmd, []string{"up", "down"}))
}
