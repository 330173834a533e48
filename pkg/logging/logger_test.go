package logging_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/catsync/pkg/logging"
)

func TestDefaultLogger(t *testing.T) {
	original := *logging.Default()
	t.Cleanup(func() { logging.SetDefault(original) })

	buf := &bytes.Buffer{}
	logging.SetDefault(zerolog.New(buf).Level(zerolog.InfoLevel))

	logging.Debug().Msg("debug message")
	logging.Info().Msg("info message")
	logging.Warn().Msg("warning message")

	output := buf.String()
	assert.Contains(t, output, "info message")
	assert.Contains(t, output, "warning message")
	assert.NotContains(t, output, "debug message")
}

func TestContextLogger(t *testing.T) {
	testLogger := logging.NewTestLogger(t)

	ctx := logging.WithLogger(context.Background(), testLogger.Logger)
	ctx = logging.WithKind(ctx, "room")
	ctx = logging.WithCatalog(ctx, "cat-1")
	ctx = logging.WithRunID(ctx, "run-7")
	ctx = logging.WithOperation(ctx, "pull")

	logging.FromContext(ctx).Info().Msg("pass finished")

	testLogger.AssertContains(t, `"kind":"room"`)
	testLogger.AssertContains(t, `"catalog":"cat-1"`)
	testLogger.AssertContains(t, `"run_id":"run-7"`)
	testLogger.AssertContains(t, `"operation":"pull"`)

	entries := testLogger.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "info", entries[0].Level())
	assert.Equal(t, "pass finished", entries[0].Message())
	assert.Equal(t, "room", entries[0].Str("kind"))
	testLogger.AssertLogged(t, zerolog.InfoLevel, "pass finished")
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	//nolint:staticcheck // nil context is part of the contract
	assert.Equal(t, logging.Default(), logging.FromContext(nil))
	assert.Equal(t, logging.Default(), logging.FromContext(context.Background()))
}

func TestWithField(t *testing.T) {
	testLogger := logging.NewTestLogger(t)
	ctx := logging.WithLogger(context.Background(), testLogger.Logger)

	ctx = logging.WithField(ctx, "created", 3)
	ctx = logging.WithField(ctx, "dry_run", true)
	ctx = logging.WithField(ctx, "cause", errors.New("remote said no"))

	logging.FromContext(ctx).Warn().Msg("record failed")

	out := testLogger.Output()
	assert.Contains(t, out, `"created":3`)
	assert.Contains(t, out, `"dry_run":true`)
	assert.Contains(t, out, `"cause":"remote said no"`)
}

func TestRequestID(t *testing.T) {
	testLogger := logging.NewTestLogger(t)
	ctx := logging.WithLogger(context.Background(), testLogger.Logger)
	ctx = logging.WithRequestID(ctx, "req-1")

	assert.Equal(t, "req-1", logging.RequestID(ctx))
	assert.Empty(t, logging.RequestID(context.Background()))
	logging.FromContext(ctx).Info().Msg("hello")
	testLogger.AssertContains(t, `"request_id":"req-1"`)
}

func TestNewLoggerFromConfig(t *testing.T) {
	t.Run("discard output", func(t *testing.T) {
		logger := logging.NewLoggerFromConfig(&logging.Config{Level: "warn", Output: "discard", Format: "json"})
		assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		logger := logging.NewLoggerFromConfig(&logging.Config{Level: "chatty", Output: "discard"})
		assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	})

	t.Run("file output is written through the rotating writer", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catsync.log")
		logger := logging.NewLoggerFromConfig(&logging.Config{
			Level:  "info",
			Output: path,
			Format: "json",
			Fields: map[string]any{"component": "test"},
		})
		logger.Info().Msg("written to file")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(data), "written to file"))
		assert.Contains(t, string(data), `"component":"test"`)
	})

	t.Run("nil config uses defaults", func(t *testing.T) {
		logger := logging.NewLoggerFromConfig(nil)
		assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	})

	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })
}

func TestCaptureLoggingForTest(t *testing.T) {
	captured := logging.CaptureLoggingForTest(t)
	logging.Info().Str("kind", "label").Msg("captured")
	captured.AssertContains(t, "captured")
	captured.AssertContains(t, "label")
}

func TestDisableLoggingRestoresDefault(t *testing.T) {
	buf := &bytes.Buffer{}
	original := *logging.Default()
	t.Cleanup(func() { logging.SetDefault(original) })
	logging.SetDefault(zerolog.New(buf))

	t.Run("disabled", func(t *testing.T) {
		logging.DisableLoggingForTest(t)
		logging.Info().Msg("dropped")
	})
	logging.Info().Msg("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestTestLoggerFind(t *testing.T) {
	tl := logging.NewTestLogger(t)
	ctx := tl.Context(context.Background())

	logging.FromContext(ctx).Warn().Str("record", "r1").Msg("remote create failed")
	logging.FromContext(ctx).Warn().Str("record", "r2").Msg("remote create failed")
	logging.FromContext(ctx).Info().Msg("sync run finished")

	failed := tl.Find("remote create failed")
	require.Len(t, failed, 2)
	assert.Equal(t, "r2", failed[1].Str("record"))
	assert.Empty(t, tl.Find("missing"))

	tl.Clear()
	assert.Empty(t, tl.Entries())
}
