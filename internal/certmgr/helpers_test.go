package certmgr

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"certd/internal/directory"
	"certd/internal/remote"
	"certd/internal/rights"
	"certd/internal/upload"
)

const testTool = "/opt/zextras/bin/zmcertmgr"

var admin = rights.Caller{AccountID: "acc-1", Name: "admin@example.com", AuthToken: "token"}

type call struct {
	server string
	argv   []string
}

// fakeExecutor records commands and answers through respond.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []call
	respond func(server *directory.Entry, argv []string) (remote.CommandResult, error)
}

func (f *fakeExecutor) Execute(_ context.Context, server *directory.Entry, argv []string) (remote.CommandResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{server: server.Name, argv: append([]string(nil), argv...)})
	f.mu.Unlock()
	if f.respond == nil {
		return remote.CommandResult{Command: argv}, nil
	}
	res, err := f.respond(server, argv)
	res.Command = argv
	return res, err
}

func (f *fakeExecutor) subcommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.server + " " + c.argv[1]
	}
	return out
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func ok(stdout string) (remote.CommandResult, error) {
	return remote.CommandResult{Stdout: []byte(stdout)}, nil
}

func newTestStore(t *testing.T) *directory.MemoryStore {
	t.Helper()
	store, err := directory.NewMemoryStore(directory.Seed{
		LocalServer: "mail1.example.com",
		Config:      map[string]string{directory.AttrSSLPrivateKey: "GLOBAL-KEY"},
		Servers: []*directory.Entry{
			{ID: "s1", Name: "mail1.example.com", Attrs: map[string]string{directory.AttrSSLPrivateKey: "MAIL1-KEY"}},
			{ID: "s2", Name: "mta1.example.com", Attrs: map[string]string{directory.AttrSSLPrivateKey: "MTA1-KEY"}},
			{ID: "s3", Name: "proxy1.example.com"},
		},
		Domains: []*directory.Entry{
			{ID: "d1", Name: "example.com"},
		},
	}, "")
	require.NoError(t, err)
	return store
}

func allowAll() *rights.MockChecker {
	checker := &rights.MockChecker{}
	checker.On("Check", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return checker
}

type fixture struct {
	store   *directory.MemoryStore
	checker *rights.MockChecker
	exec    *fakeExecutor
	uploads *upload.Store
	tempDir string
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   newTestStore(t),
		checker: allowAll(),
		exec:    &fakeExecutor{},
		uploads: upload.NewStore(time.Minute, 1<<20),
		tempDir: t.TempDir(),
	}
	f.service = NewService(Deps{
		Store:    f.store,
		Rights:   f.checker,
		Executor: f.exec,
		Uploads:  f.uploads,
		ToolPath: testTool,
		TempDir:  f.tempDir,
	})
	return f
}

func (f *fixture) put(t *testing.T, name, content string) *AttachmentRef {
	t.Helper()
	up, err := f.uploads.Put(admin.AccountID, name, []byte(content))
	require.NoError(t, err)
	return &AttachmentRef{AttachmentID: up.AttachmentID, Filename: name}
}

// workspaces lists what is left under the temp dir.
func (f *fixture) workspaces(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func hasArg(argv []string, want string) bool {
	for _, a := range argv {
		if a == want {
			return true
		}
	}
	return false
}

func joined(argv []string) string {
	return strings.Join(argv, " ")
}
