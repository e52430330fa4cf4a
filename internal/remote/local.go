package remote

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	cerr "github.com/cockroachdb/errors"

	"certd/internal/directory"
	"certd/internal/logger"
)

// LocalExecutor runs the tool as a child process. No shell is involved.
type LocalExecutor struct {
	timeout time.Duration
}

func NewLocalExecutor(timeout time.Duration) *LocalExecutor {
	return &LocalExecutor{timeout: timeout}
}

func (e *LocalExecutor) Execute(ctx context.Context, server *directory.Entry, argv []string) (CommandResult, error) {
	res := CommandResult{Command: argv}
	if err := checkArgv(argv); err != nil {
		return res, err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	logger.RemoteEvent(server.Name, argv).Str("transport", "local").Msg("executing command")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, cerr.Wrapf(ctxErr, "run %s on %s", argv[0], server.Name)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, cerr.Wrapf(err, "run %s on %s", argv[0], server.Name)
	}
	return res, nil
}
