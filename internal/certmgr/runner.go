package certmgr

import (
	"context"
	"fmt"

	"certd/internal/directory"
	"certd/internal/logger"
	"certd/internal/remote"
)

// runner executes tool commands and turns non-zero exits into
// RemoteCommandErrors.
type runner struct {
	exec remote.Executor
	cmd  commandBuilder
}

func (r runner) run(ctx context.Context, server *directory.Entry, argv []string) (remote.CommandResult, error) {
	res, err := r.exec.Execute(ctx, server, argv)
	if err != nil {
		return res, err
	}
	if res.Failed() {
		failure := res.AsError(server.Name)
		logger.Get().Error().
			Str("event_category", "security").
			Str("server", server.Name).
			Int("exit_code", res.ExitCode).
			Err(failure).
			Msg("certificate tool command failed")
		return res, failure
	}
	return res, nil
}

// runParsed runs argv and parses its output, which must be text.
func (r runner) runParsed(ctx context.Context, server *directory.Entry, argv []string) (map[string]string, error) {
	res, err := r.run(ctx, server, argv)
	if err != nil {
		return nil, err
	}
	fields, err := ParseOutput(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("handling output of %s on %s: %w", argv[1], server.Name, err)
	}
	logger.Get().Debug().Str("server", server.Name).Str("command", argv[1]).Int("fields", len(fields)).Msg("command output parsed")
	return fields, nil
}
