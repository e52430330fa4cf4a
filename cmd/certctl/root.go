package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"certd/internal/client"
	certderrors "certd/internal/errors"
	"certd/internal/version"
)

const (
	defaultServerURL = "http://localhost:52100"
	envServerURL     = "CERTD_URL"
	envToken         = "CERTD_TOKEN"
	envPassword      = "CERTD_PASSWORD"
)

// cli carries the global flags and the streams of one invocation.
type cli struct {
	in        *bufio.Reader
	out       io.Writer
	serverURL string
	token     string
	tokenFile string
	asJSON    bool
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{in: bufio.NewReader(in), out: out}
	root := &cobra.Command{
		Use:           "certctl",
		Short:         "Manage mail server certificates through certd",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("server-url") {
				if env := strings.TrimSpace(os.Getenv(envServerURL)); env != "" {
					c.serverURL = env
				}
			}
			if c.token == "" {
				c.token = strings.TrimSpace(os.Getenv(envToken))
			}
			return nil
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&c.serverURL, "server-url", defaultServerURL, "certd base URL (env "+envServerURL+")")
	root.PersistentFlags().StringVar(&c.token, "token", "", "session token (env "+envToken+")")
	root.PersistentFlags().StringVar(&c.tokenFile, "token-file", defaultTokenFile(), "file holding the session token saved by login")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print results as JSON")

	root.AddCommand(
		c.loginCmd(),
		c.logoutCmd(),
		c.csrCmd(),
		c.installCmd(),
		c.certsCmd(),
		c.domainCertCmd(),
		c.verifyCmd(),
		c.uploadCmd(),
		c.hashPasswordCmd(),
	)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return certderrors.Invalid("flags", "", err.Error())
	})
	wrapErrors(root, errOut)
	return root
}

// wrapErrors prints failures once, with the API detail when present.
func wrapErrors(root *cobra.Command, errOut io.Writer) {
	var walk func(cmd *cobra.Command)
	walk = func(cmd *cobra.Command) {
		if run := cmd.RunE; run != nil {
			cmd.RunE = func(cmd *cobra.Command, args []string) error {
				err := run(cmd, args)
				if err != nil {
					fmt.Fprintln(errOut, "Error:", err)
				}
				return err
			}
		}
		for _, sub := range cmd.Commands() {
			walk(sub)
		}
	}
	walk(root)
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".certd-token"
	}
	return filepath.Join(home, ".certd", "token")
}

// client builds an API client with the explicit token, else the saved one.
func (c *cli) client() (*client.Client, error) {
	token := c.token
	if token == "" && c.tokenFile != "" {
		data, err := os.ReadFile(c.tokenFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: read token file: %v", certderrors.ErrIO, err)
		}
		token = strings.TrimSpace(string(data))
	}
	return client.New(c.serverURL, client.WithToken(token))
}

func (c *cli) saveToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(c.tokenFile), 0o700); err != nil {
		return fmt.Errorf("%w: %v", certderrors.ErrIO, err)
	}
	if err := os.WriteFile(c.tokenFile, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("%w: %v", certderrors.ErrIO, err)
	}
	return nil
}

func (c *cli) readLine(prompt string) (string, error) {
	fmt.Fprint(c.out, prompt)
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", certderrors.Invalid("stdin", "", "no input")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readFile(flag, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", certderrors.Invalid(flag, path, err.Error())
	}
	return string(data), nil
}

// exitCode maps error categories to distinct process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, certderrors.ErrInvalidInput):
		return 2
	case errors.Is(err, certderrors.ErrSessionExpired), errors.Is(err, certderrors.ErrUnauthorized):
		return 3
	case errors.Is(err, certderrors.ErrNotFound):
		return 4
	case errors.Is(err, certderrors.ErrVerification):
		return 5
	case errors.Is(err, certderrors.ErrRemoteCommand):
		return 6
	default:
		return 1
	}
}
