package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesToWriter(t *testing.T) {
	t.Setenv("GPUSTAT_DEBUG", "")

	var buf bytes.Buffer
	l, closeFn, err := New(Config{Level: "info"}, &buf)
	require.NoError(t, err)
	defer closeFn()

	l.Debug("hidden %d", 1)
	l.Info("collected %d samples", 3)
	l.Warn("slow host %s", "gpu1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "collected 3 samples")
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "slow host gpu1")
	assert.Contains(t, out, "WARN")
}

func TestNew_DebugEnvOverridesLevel(t *testing.T) {
	t.Setenv("GPUSTAT_DEBUG", "1")

	var buf bytes.Buffer
	l, closeFn, err := New(Config{Level: "error"}, &buf)
	require.NoError(t, err)
	defer closeFn()

	l.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New(Config{Level: "chatty"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chatty")
}

func TestNew_RotatedFile(t *testing.T) {
	t.Setenv("GPUSTAT_DEBUG", "")

	path := filepath.Join(t.TempDir(), "gpustat.log")
	l, closeFn, err := New(Config{Level: "debug", File: path, MaxSizeMB: 1}, nil)
	require.NoError(t, err)

	l.Error("store append failed")
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "store append failed")
}

func TestNamed(t *testing.T) {
	buf := NewBufferLogger()
	l := Named(buf, "collector gpu1")

	l.Info("cycle %d ok", 4)
	l.Error("boom")

	msgs := buf.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, LogMessage{Level: "info", Message: "[collector gpu1] cycle 4 ok"}, msgs[0])
	assert.Equal(t, "error", msgs[1].Level)
}

func TestNamed_NilFallsBackToNoop(t *testing.T) {
	l := Named(nil, "x")
	assert.NotPanics(t, func() { l.Info("hello") })
}

func TestNoop(t *testing.T) {
	l := Noop()
	assert.NotPanics(t, func() {
		l.Debug("a")
		l.Info("b")
		l.Warn("c")
		l.Error("d")
	})
}

func TestBufferLogger(t *testing.T) {
	l := NewBufferLogger()

	l.Debug("debug %s", "msg")
	l.Warn("warn msg")

	assert.True(t, l.HasLevel("debug"))
	assert.True(t, l.HasLevel("warn"))
	assert.False(t, l.HasLevel("error"))
	assert.True(t, l.Contains("debug msg"))
	assert.False(t, l.Contains("missing"))

	l.Clear()
	assert.Empty(t, l.Messages())
}

func TestBufferLogger_Concurrent(t *testing.T) {
	l := NewBufferLogger()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Info("worker %d", i)
		}(i)
	}
	wg.Wait()

	assert.Len(t, l.Messages(), 20)
}

func TestDefault(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	buf := NewBufferLogger()
	SetDefault(buf)
	Default().Info("via default")

	assert.True(t, buf.Contains("via default"))
}
