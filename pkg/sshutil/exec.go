package sshutil

import (
	"bytes"
	stderrors "errors"

	"github.com/rileyhilliard/gpustat/internal/errors"
	"golang.org/x/crypto/ssh"
)

// Exec runs a command on the remote host and returns the output.
// Returns stdout, stderr, exit code, and any error.
// Exit code is -1 if the command couldn't be executed at all.
func (c *Client) Exec(cmd string) (stdout, stderr []byte, exitCode int, err error) {
	session, err := c.Client.NewSession()
	if err != nil {
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrNetwork,
			"Failed to create SSH session",
			"Connection may have been closed. It will be re-established next cycle.")
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	err = session.Run(cmd)
	if err != nil {
		var exitErr *ssh.ExitError
		if stderrors.As(err, &exitErr) {
			// Command ran, just had non-zero exit
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitErr.ExitStatus(), nil
		}
		var missing *ssh.ExitMissingError
		if stderrors.As(err, &missing) {
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), -1, errors.WrapWithCode(err, errors.ErrNetwork,
				"Remote command ended without an exit status",
				"The connection probably dropped mid-command.")
		}
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrNetwork,
			"Failed to execute remote command",
			"The connection probably dropped mid-command.")
	}

	return stdoutBuf.Bytes(), stderrBuf.Bytes(), 0, nil
}
