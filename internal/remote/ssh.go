package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	cerr "github.com/cockroachdb/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"mvdan.cc/sh/v3/syntax"

	"certd/config"
	"certd/internal/directory"
	certderrors "certd/internal/errors"
	"certd/internal/logger"
)

// authTimeout bounds connection setup and authentication.
const authTimeout = 100 * time.Second

// SSHExecutor is the remote manager. It opens an exec channel running the
// shim command on the target and writes "HOST:<host> <command line>" to its
// stdin. Per-server directory attributes override the configured user, port
// and shim.
type SSHExecutor struct {
	cfg      config.SSHConfig
	signer   ssh.Signer
	hostKeys ssh.HostKeyCallback
}

func NewSSHExecutor(cfg config.SSHConfig) (*SSHExecutor, error) {
	if cfg.PrivateKeyPath == "" {
		return nil, fmt.Errorf("%w: ssh private key path is not set", certderrors.ErrInvalidSettings)
	}
	pemBytes, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, cerr.Wrapf(err, "read ssh private key %s", cfg.PrivateKeyPath)
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, cerr.Wrapf(err, "parse ssh private key %s", cfg.PrivateKeyPath)
	}

	var hostKeys ssh.HostKeyCallback
	switch {
	case cfg.KnownHostsPath != "":
		hostKeys, err = knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, cerr.Wrapf(err, "load known hosts %s", cfg.KnownHostsPath)
		}
	case cfg.InsecureIgnoreHostKey:
		logger.SecurityEvent("ssh_host_key").Msg("host key verification disabled for the remote manager")
		hostKeys = ssh.InsecureIgnoreHostKey()
	default:
		return nil, fmt.Errorf("%w: ssh needs a known_hosts file or insecure_ignore_host_key", certderrors.ErrInvalidSettings)
	}

	if cfg.User == "" {
		cfg.User = config.DefaultSSHUser
	}
	if cfg.Port == 0 {
		cfg.Port = config.DefaultSSHPort
	}
	if cfg.Command == "" {
		cfg.Command = config.DefaultShimCommand
	}
	return &SSHExecutor{cfg: cfg, signer: signer, hostKeys: hostKeys}, nil
}

// CommandLine quotes argv into a single bash-compatible line for the shim.
func CommandLine(argv []string) (string, error) {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		q, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			return "", fmt.Errorf("%w: argument %d cannot be quoted: %v", certderrors.ErrInvalidInput, i, err)
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " "), nil
}

func (e *SSHExecutor) Execute(ctx context.Context, server *directory.Entry, argv []string) (CommandResult, error) {
	res := CommandResult{Command: argv}
	if err := checkArgv(argv); err != nil {
		return res, err
	}
	host := server.Hostname()
	if host == "" {
		return res, fmt.Errorf("%w: server %s has no %s", certderrors.ErrIllegalState, server.Name, directory.AttrServiceHostname)
	}
	line, err := CommandLine(argv)
	if err != nil {
		return res, err
	}

	user := server.Attr(directory.AttrRemoteManagementUser)
	if user == "" {
		user = e.cfg.User
	}
	shim := server.Attr(directory.AttrRemoteManagementCommand)
	if shim == "" {
		shim = e.cfg.Command
	}
	addr := net.JoinHostPort(host, strconv.Itoa(server.AttrInt(directory.AttrRemoteManagementPort, e.cfg.Port)))

	if e.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CommandTimeout)
		defer cancel()
	}

	client, err := e.connect(ctx, addr, user)
	if err != nil {
		return res, cerr.Wrapf(err, "rmgmt connect %s@%s", user, addr)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return res, cerr.Wrapf(err, "rmgmt open session %s@%s", user, addr)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	session.Stdin = strings.NewReader("HOST:" + host + " " + line)

	logger.RemoteEvent(server.Name, argv).
		Str("transport", "ssh").
		Str("addr", addr).
		Str("user", user).
		Msg("executing command")

	done := make(chan error, 1)
	go func() { done <- session.Run(shim) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = client.Close()
		<-done
		res.Stdout, res.Stderr = stdout.Bytes(), stderr.Bytes()
		return res, cerr.Wrapf(ctx.Err(), "rmgmt %s on %s", argv[0], addr)
	}

	res.Stdout, res.Stderr = stdout.Bytes(), stderr.Bytes()
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, cerr.Wrapf(err, "rmgmt %s on %s", argv[0], addr)
	}
	return res, nil
}

func (e *SSHExecutor) connect(ctx context.Context, addr, user string) (*ssh.Client, error) {
	clientConfig := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(e.signer)},
		HostKeyCallback: e.hostKeys,
		Timeout:         authTimeout,
	}

	dialer := net.Dialer{Timeout: authTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(authTimeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}
