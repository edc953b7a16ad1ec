package glue

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/logiface"
)

func TestNopLogger_doesNotPanic(t *testing.T) {
	l := NopLogger()
	require.NotNil(t, l)
	l.Info().Str("k", "v").Log("hello")
}

func TestNewZerologLogger_writes(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	l := NewZerologLogger(zl, logiface.LevelTrace)
	require.NotNil(t, l)
	l.Info().Str("k", "v").Log("hello")
	require.Contains(t, buf.String(), "hello")
	require.Contains(t, buf.String(), `"k":"v"`)
}
