package cmd

import (
	"log/slog"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogLevel(t *testing.T) {
	t.Parallel()

	for _, expected := range []slog.Level{
		slog.LevelDebug,
		slog.LevelInfo,
		slog.LevelWarn,
		slog.LevelError,
	} {
		level, err := getLogLevel(expected.String())
		require.NoError(t, err)
		assert.Equal(t, expected, level)
	}

	_, err := getLogLevel("VERBOSE")
	assert.Error(t, err)
}

func TestLevelStringToLevelVar(t *testing.T) {
	t.Parallel()

	level, err := levelStringToLevelVar("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level.Level())

	_, err = levelStringToLevelVar("bogus")
	assert.Error(t, err)
}

func TestLevelToStringHookFunc(t *testing.T) {
	t.Parallel()

	hook := LevelToStringHookFunc()

	levelVarType := reflect.TypeOf(&slog.LevelVar{})
	result, err := hook(reflect.TypeOf(""), levelVarType, "DEBUG")
	require.NoError(t, err)
	levelVar, ok := result.(*slog.LevelVar)
	require.True(t, ok)
	assert.Equal(t, slog.LevelDebug, levelVar.Level())

	// non-string sources and non-LevelVar targets pass through untouched
	result, err = hook(reflect.TypeOf(0), levelVarType, 42)
	require.NoError(t, err)
	assert.Equal(t, 42, result)

	result, err = hook(reflect.TypeOf(""), reflect.TypeOf(""), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", result)

	_, err = hook(reflect.TypeOf(""), levelVarType, "nonsense")
	assert.Error(t, err)
}
