package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"certd/internal/directory"
	certderrors "certd/internal/errors"
	"certd/internal/remote"
)

// Recorder holds the counters and histograms updated on the request path.
type Recorder struct {
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	operations      *prometheus.CounterVec
}

// NewRecorder creates the request path metrics and registers them on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certd_tool_commands_total",
			Help: "Certificate tool invocations by server, subcommand and outcome (ok, failed, error)",
		}, []string{"server", "command", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certd_tool_command_duration_seconds",
			Help:    "Duration of certificate tool invocations",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"command"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certd_operations_total",
			Help: "Certificate operations by name and result code",
		}, []string{"operation", "result"}),
	}
	reg.MustRegister(r.commands, r.commandDuration, r.operations)
	return r
}

// ObserveOperation counts one finished operation. The result label is the
// error kind, or "ok".
func (r *Recorder) ObserveOperation(operation string, err error) {
	result := certderrors.Kind(err)
	if result == "" {
		result = "ok"
	}
	r.operations.WithLabelValues(operation, result).Inc()
}

// Executor wraps next so that every command is counted and timed.
func (r *Recorder) Executor(next remote.Executor) remote.Executor {
	return &instrumentedExecutor{next: next, recorder: r}
}

type instrumentedExecutor struct {
	next     remote.Executor
	recorder *Recorder
}

func (e *instrumentedExecutor) Execute(ctx context.Context, server *directory.Entry, argv []string) (remote.CommandResult, error) {
	start := time.Now()
	res, err := e.next.Execute(ctx, server, argv)

	command := "unknown"
	if len(argv) > 1 {
		command = argv[1]
	}
	serverName := ""
	if server != nil {
		serverName = server.Name
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case res.Failed():
		outcome = "failed"
	}
	e.recorder.commands.WithLabelValues(serverName, command, outcome).Inc()
	e.recorder.commandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
	return res, err
}
