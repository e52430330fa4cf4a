package certmgr

import (
	"context"

	"certd/internal/certs"
	"certd/internal/directory"
	"certd/internal/logger"
	"certd/internal/remote"
	"certd/internal/rights"
	"certd/internal/upload"
)

// Deps are the collaborators of a Service.
type Deps struct {
	Store    directory.Store
	Rights   rights.Checker
	Executor remote.Executor
	Uploads  upload.Fetcher
	ToolPath string
	TempDir  string
}

// Service is the entry point for every certificate operation. Each call
// carries the caller, whose rights are checked before any work is done.
type Service struct {
	store     directory.Store
	rights    rights.Checker
	runner    runner
	csr       *CSRGenerator
	installer *Installer
	inspector *Inspector
	verifier  *Verifier
}

func NewService(d Deps) *Service {
	r := runner{exec: d.Executor, cmd: commandBuilder{tool: d.ToolPath}}
	workspaces := NewWorkspaceStore(d.TempDir)
	return &Service{
		store:     d.Store,
		rights:    d.Rights,
		runner:    r,
		csr:       &CSRGenerator{store: d.Store, rights: d.Rights, runner: r},
		installer: &Installer{store: d.Store, rights: d.Rights, runner: r, uploads: d.Uploads, workspaces: workspaces},
		inspector: &Inspector{store: d.Store, rights: d.Rights, runner: r},
		verifier:  &Verifier{store: d.Store, rights: d.Rights, runner: r, workspaces: workspaces},
	}
}

func (s *Service) GenerateCSR(ctx context.Context, caller rights.Caller, target ServerTarget, req CertificateRequest) (string, error) {
	return s.csr.Generate(ctx, caller, target, req)
}

func (s *Service) InstallCertificate(ctx context.Context, caller rights.Caller, target ServerTarget, req CertificateRequest, bundle *UploadedCertBundle) (string, error) {
	return s.installer.Install(ctx, caller, target, req, bundle)
}

func (s *Service) GetCertificates(ctx context.Context, caller rights.Caller, target ServerTarget, certType, option string) (*InspectionReport, error) {
	return s.inspector.DeployedOrStaged(ctx, caller, target, certType, option)
}

func (s *Service) GetDomainCertificate(ctx context.Context, caller rights.Caller, domainID string) (certs.Metadata, error) {
	return s.inspector.DomainCertificate(ctx, caller, domainID)
}

func (s *Service) VerifyCertKey(ctx context.Context, caller rights.Caller, certPEM, keyPEM, chainPEM string) (bool, error) {
	return s.verifier.Verify(ctx, caller, certPEM, keyPEM, chainPEM)
}

// CSR is a commercial certificate request ready for download.
type CSR struct {
	Server string
	PEM    string
}

// DownloadCSR returns the pending commercial CSR of a server, the local one
// when serverID is empty.
func (s *Service) DownloadCSR(ctx context.Context, caller rights.Caller, serverID string) (CSR, error) {
	var (
		server *directory.Entry
		err    error
	)
	if serverID == "" {
		server, err = s.store.GetLocalServer(ctx)
	} else {
		server, err = findServer(ctx, s.store, serverID)
	}
	if err != nil {
		return CSR{}, err
	}
	if err := s.rights.Check(ctx, caller, server, rights.RightGetCSR); err != nil {
		return CSR{}, err
	}

	res, err := s.runner.run(ctx, server, s.runner.cmd.viewCSR(CertTypeComm))
	if err != nil {
		return CSR{}, err
	}
	pem, err := CleanCSROutput(res.Stdout)
	if err != nil {
		return CSR{}, err
	}
	logger.Get().Info().Str("event_category", "security").Str("account", caller.Name).Str("server", server.Name).Msg("CSR downloaded")
	return CSR{Server: server.Name, PEM: pem}, nil
}
