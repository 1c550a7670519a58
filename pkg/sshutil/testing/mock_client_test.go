package testing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_Responses(t *testing.T) {
	m := NewMockClient("gpu1")
	m.SetCommandResponse("nvidia-smi -L", CommandResponse{Stdout: []byte("GPU 0\n")})
	m.SetCommandResponse("^echo .*", CommandResponse{Stdout: []byte("echoed")})
	m.SetDefaultResponse(CommandResponse{Stderr: []byte("not found"), ExitCode: 127})

	out, _, code, err := m.Exec("nvidia-smi -L")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "GPU 0\n", string(out))

	out, _, _, err = m.Exec("echo hi")
	require.NoError(t, err)
	assert.Equal(t, "echoed", string(out))

	_, stderr, code, err := m.Exec("bogus")
	require.NoError(t, err)
	assert.Equal(t, 127, code)
	assert.Equal(t, "not found", string(stderr))

	assert.Equal(t, []string{"nvidia-smi -L", "echo hi", "bogus"}, m.Calls())
}

func TestMockClient_QueueTakesPriority(t *testing.T) {
	m := NewMockClient("gpu1")
	m.SetCommandResponse("cmd", CommandResponse{Stdout: []byte("steady")})
	m.Enqueue(
		CommandResponse{Error: errors.New("dropped")},
		CommandResponse{ExitCode: 3},
	)

	_, _, _, err := m.Exec("cmd")
	assert.EqualError(t, err, "dropped")

	_, _, code, err := m.Exec("cmd")
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	out, _, _, err := m.Exec("cmd")
	require.NoError(t, err)
	assert.Equal(t, "steady", string(out))
}

func TestMockClient_Liveness(t *testing.T) {
	m := NewMockClient("gpu1")
	assert.Equal(t, "gpu1", m.GetHost())
	assert.Equal(t, "gpu1:22", m.GetAddress())

	ok, _, err := m.SendRequest("keepalive@openssh.com", true, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	m.Kill()
	_, _, err = m.SendRequest("keepalive@openssh.com", true, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, m.IsClosed())

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
	_, _, _, err = m.Exec("anything")
	assert.ErrorIs(t, err, ErrClosed)
}
