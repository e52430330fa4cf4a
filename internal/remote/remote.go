// Package remote runs certificate tool commands on cluster servers, either as
// a local process or through the SSH remote manager.
package remote

import (
	"context"
	"fmt"
	"strings"

	"certd/internal/directory"
	certderrors "certd/internal/errors"
)

// CommandResult is what a tool invocation produced. Command is kept for
// diagnostics only.
type CommandResult struct {
	Command  []string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Failed reports a non-zero exit.
func (r CommandResult) Failed() bool {
	return r.ExitCode != 0
}

// Combined is stdout followed by stderr.
func (r CommandResult) Combined() string {
	return string(r.Stdout) + string(r.Stderr)
}

// AsError converts a failed result into a RemoteCommandError.
func (r CommandResult) AsError(server string) error {
	return &certderrors.RemoteCommandError{
		Server:   server,
		Command:  r.Command,
		ExitCode: r.ExitCode,
		Stdout:   string(r.Stdout),
		Stderr:   string(r.Stderr),
	}
}

// Executor runs argv on server. A non-zero exit is not an error: it is
// reported through CommandResult.ExitCode. Errors mean the command could not
// be run or its outcome is unknown.
type Executor interface {
	Execute(ctx context.Context, server *directory.Entry, argv []string) (CommandResult, error)
}

// Router sends commands for the local server to a local executor and
// everything else to the remote one.
type Router struct {
	localName string
	local     Executor
	remote    Executor
}

// NewRouter builds a Router. remote may be nil when no remote manager is
// configured; commands for other servers then fail.
func NewRouter(localName string, local, remote Executor) *Router {
	return &Router{localName: localName, local: local, remote: remote}
}

func (r *Router) Execute(ctx context.Context, server *directory.Entry, argv []string) (CommandResult, error) {
	if server == nil {
		return CommandResult{Command: argv}, fmt.Errorf("%w: no target server", certderrors.ErrIllegalState)
	}
	if strings.EqualFold(server.Name, r.localName) {
		return r.local.Execute(ctx, server, argv)
	}
	if r.remote == nil {
		return CommandResult{Command: argv}, fmt.Errorf("%w: remote manager is not configured, cannot reach %s",
			certderrors.ErrIllegalState, server.Name)
	}
	return r.remote.Execute(ctx, server, argv)
}

func checkArgv(argv []string) error {
	if len(argv) == 0 || argv[0] == "" {
		return fmt.Errorf("%w: empty command", certderrors.ErrIllegalState)
	}
	return nil
}
