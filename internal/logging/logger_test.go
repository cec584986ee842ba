package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", "json")

	logger.Info().Str("user_id", "farmer-1").Msg("built context")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "farmer-1", entry["user_id"])
	assert.Equal(t, "built context", entry["message"])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "json")

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	logger := New(&bytes.Buffer{}, "verbose", "json")
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestFromContext(t *testing.T) {
	fallback := zerolog.Nop()

	got := FromContext(context.Background(), fallback)
	assert.Equal(t, zerolog.Disabled, got.GetLevel())

	var buf bytes.Buffer
	ctx := WithContext(context.Background(), New(&buf, "info", "json"))
	got = FromContext(ctx, fallback)
	got.Info().Msg("from ctx")
	assert.Contains(t, buf.String(), "from ctx")
}
