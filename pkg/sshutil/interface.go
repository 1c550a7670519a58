package sshutil

// SSHClient is the part of an SSH connection the runner needs.
// Both the real Client and the mock in sshutil/testing satisfy it.
type SSHClient interface {
	// Exec runs a command and returns stdout, stderr, and exit code.
	// Exit code is -1 if the command couldn't be executed at all.
	// A non-zero exit code with nil error means the command ran but failed.
	Exec(cmd string) (stdout, stderr []byte, exitCode int, err error)

	// SendRequest sends a global request; used as a liveness probe.
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)

	// Close closes the SSH connection.
	Close() error

	// GetHost returns the host name the connection was opened for.
	GetHost() string

	// GetAddress returns the resolved host:port address.
	GetAddress() string
}

var _ SSHClient = (*Client)(nil)
