package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	codes := []Kind{
		ErrAuth,
		ErrNetwork,
		ErrTimeout,
		ErrRemoteExit,
		ErrParse,
		ErrIO,
		ErrConfig,
		ErrUnknown,
	}

	seen := make(map[Kind]bool)
	for _, code := range codes {
		assert.NotEmpty(t, code, "error code should not be empty")
		assert.False(t, seen[code], "error code %q should be unique", code)
		seen[code] = true
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{ErrAuth, "AuthFailure"},
		{ErrNetwork, "NetworkUnreachable"},
		{ErrTimeout, "Timeout"},
		{ErrRemoteExit, "RemoteNonZeroExit"},
		{ErrParse, "ParseFailure"},
		{ErrIO, "IOFailure"},
		{ErrConfig, "ConfigInvalid"},
		{ErrUnknown, "Unknown"},
		{Kind("SOMETHING"), "Unknown"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}

func TestNew(t *testing.T) {
	err := New(ErrConfig, "No hosts configured", "Add a host to the config file")

	assert.Equal(t, ErrConfig, err.Code)
	assert.Equal(t, "No hosts configured", err.Message)
	assert.Equal(t, "Add a host to the config file", err.Suggestion)
	assert.Nil(t, err.Cause)
}

func TestErrorFormatting(t *testing.T) {
	cause := fmt.Errorf("dial tcp 10.0.0.5:22: connect: connection refused")
	err := WrapWithCode(cause, ErrNetwork, "Can't reach 'gpu1'", "Is SSH running on that box?")

	out := err.Error()
	lines := strings.Split(out, "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, "✗ Can't reach 'gpu1'", lines[0])
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "Is SSH running on that box?")
}

func TestWrapDefaultsToUnknown(t *testing.T) {
	err := Wrap(fmt.Errorf("boom"), "Something broke")
	assert.Equal(t, ErrUnknown, err.Code)
	assert.Equal(t, "Something broke: boom", err.Summary())
}

func TestUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := WrapWithCode(sentinel, ErrIO, "write failed", "")

	assert.True(t, errors.Is(err, sentinel))
	assert.True(t, Is(err, sentinel))
}

func TestIsCode(t *testing.T) {
	err := New(ErrParse, "bad output", "")
	wrapped := fmt.Errorf("cycle failed: %w", err)

	assert.True(t, IsCode(err, ErrParse))
	assert.True(t, IsCode(wrapped, ErrParse))
	assert.False(t, IsCode(err, ErrIO))
	assert.False(t, IsCode(nil, ErrParse))
	assert.False(t, IsCode(errors.New("plain"), ErrParse))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"structured", New(ErrAuth, "denied", ""), ErrAuth},
		{"wrapped structured", fmt.Errorf("outer: %w", New(ErrIO, "disk", "")), ErrIO},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"wrapped deadline", fmt.Errorf("exec: %w", context.DeadlineExceeded), ErrTimeout},
		{"plain", errors.New("plain"), ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRemoteExit(t *testing.T) {
	err := NewRemoteExit("gpu1", 9, "NVIDIA-SMI has failed\nmore detail")

	assert.Equal(t, ErrRemoteExit, KindOf(err))

	var exitErr *RemoteExitError
	require.True(t, As(err, &exitErr))
	assert.Equal(t, 9, exitErr.ExitCode)
	assert.Equal(t, "remote command exited with code 9: NVIDIA-SMI has failed", exitErr.Error())
	assert.Contains(t, err.Summary(), "code 9")
}

func TestRemoteExitEmptyStderr(t *testing.T) {
	exitErr := &RemoteExitError{ExitCode: 1}
	assert.Equal(t, "remote command exited with code 1", exitErr.Error())
}

func TestSummaryOf(t *testing.T) {
	assert.Equal(t, "", SummaryOf(nil))
	assert.Equal(t, "plain", SummaryOf(errors.New("plain\nsecond line")))

	nested := WrapWithCode(New(ErrNetwork, "inner", "hint"), ErrNetwork, "outer", "")
	assert.Equal(t, "outer: inner", SummaryOf(nested))
}
