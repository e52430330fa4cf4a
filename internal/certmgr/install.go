package certmgr

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"certd/internal/directory"
	certderrors "certd/internal/errors"
	"certd/internal/logger"
	"certd/internal/rights"
	"certd/internal/upload"
)

// Installer installs self-signed or commercial certificates on one server
// or the whole cluster.
type Installer struct {
	store      directory.Store
	rights     rights.Checker
	runner     runner
	uploads    upload.Fetcher
	workspaces *WorkspaceStore
}

// installPlan is a fully validated install.
type installPlan struct {
	certType CertType
	all      bool
	create   []string
}

func (in *Installer) plan(req CertificateRequest, bundle *UploadedCertBundle, all bool) (installPlan, error) {
	certType, err := ParseCertType(req.Type)
	if err != nil {
		return installPlan{}, err
	}
	p := installPlan{certType: certType, all: all}
	if certType == CertTypeSelf {
		p.create, err = in.runner.cmd.createCrt(req, all)
		return p, err
	}
	// Commercial material comes from the uploads; subject and SANs are only
	// checked.
	if _, err := appendIdentity(nil, req); err != nil {
		return installPlan{}, err
	}
	if err := bundle.validate(); err != nil {
		return installPlan{}, err
	}
	return p, nil
}

// Install returns the name of the server the certificate was installed
// through. Every input is validated before anything is created or run.
func (in *Installer) Install(ctx context.Context, caller rights.Caller, target ServerTarget, req CertificateRequest, bundle *UploadedCertBundle) (string, error) {
	server, err := target.resolve(ctx, in.store)
	if err != nil {
		return "", err
	}
	if err := in.rights.Check(ctx, caller, server, rights.RightInstallCertificate); err != nil {
		return "", err
	}
	p, err := in.plan(req, bundle, target.IsAll())
	if err != nil {
		return "", err
	}

	logger.Get().Info().
		Str("event_category", "security").
		Str("account", caller.Name).
		Str("server", server.Name).
		Str("type", string(p.certType)).
		Bool("all_servers", p.all).
		Msg("installing certificate")

	if p.certType == CertTypeSelf {
		if _, err := in.runner.runParsed(ctx, server, p.create); err != nil {
			return "", err
		}
		if _, err := in.runner.runParsed(ctx, server, in.runner.cmd.deployCrt(CertTypeSelf, "", "", p.all)); err != nil {
			return "", err
		}
		return server.Name, nil
	}
	if err := in.installCommercial(ctx, caller, server, bundle, p.all, req.SkipCleanup); err != nil {
		return "", err
	}
	return server.Name, nil
}

func (in *Installer) installCommercial(ctx context.Context, caller rights.Caller, server *directory.Entry, bundle *UploadedCertBundle, all, skipCleanup bool) (err error) {
	ws, err := in.workspaces.Create()
	if err != nil {
		return err
	}
	if skipCleanup {
		logger.SecurityEvent("skip_cleanup").Str("dir", ws.Dir()).Msg("temporary certificate files kept on request")
	} else {
		defer func() {
			if destroyErr := ws.Destroy(); destroyErr != nil {
				logger.SecurityEvent("cleanup").Str("dir", ws.Dir()).Err(destroyErr).Msg("temporary certificate files were not deleted")
				if err == nil {
					err = destroyErr
				}
			}
		}()
	}

	id := uuid.NewString()
	certPath, chainPath, completeChain, err := in.stage(ctx, caller, ws, bundle, id)
	if err != nil {
		return err
	}

	key, err := in.privateKey(ctx, server, all)
	if err != nil {
		return err
	}
	keyPath, err := ws.Write("key_"+id, []byte(key))
	if err != nil {
		return err
	}

	// Verification always runs on the local server, whichever server is
	// the target.
	local, err := in.store.GetLocalServer(ctx)
	if err != nil {
		return err
	}
	if err := in.verify(ctx, local, in.runner.cmd.verifyCrtChain(chainPath, certPath)); err != nil {
		return err
	}
	if err := in.verify(ctx, local, in.runner.cmd.verifyCrtKey(keyPath, certPath)); err != nil {
		return err
	}

	if _, err := in.runner.runParsed(ctx, server, in.runner.cmd.deployCrt(CertTypeComm, certPath, chainPath, all)); err != nil {
		return err
	}
	return in.persistChain(ctx, server, all, completeChain)
}

// stage fetches the uploads and writes the leaf and the chain
// (intermediates then root). It returns the complete chain
// leaf\n intermediate\n ... root\n for the directory.
func (in *Installer) stage(ctx context.Context, caller rights.Caller, ws *Workspace, bundle *UploadedCertBundle, id string) (certPath, chainPath string, complete []byte, err error) {
	leaf, err := in.fetch(ctx, caller, *bundle.Cert)
	if err != nil {
		return "", "", nil, err
	}
	if certPath, err = ws.Write("crt_"+id, leaf); err != nil {
		return "", "", nil, err
	}
	root, err := in.fetch(ctx, caller, *bundle.RootCA)
	if err != nil {
		return "", "", nil, err
	}

	var chain, full bytes.Buffer
	full.Write(leaf)
	full.WriteByte('\n')
	for _, ref := range bundle.IntermediateCAs {
		if ref.AttachmentID == "" {
			continue
		}
		intermediate, err := in.fetch(ctx, caller, ref)
		if err != nil {
			return "", "", nil, err
		}
		chain.Write(intermediate)
		chain.WriteByte('\n')
		full.Write(intermediate)
		full.WriteByte('\n')
	}
	chain.Write(root)
	chain.WriteByte('\n')
	full.Write(root)
	full.WriteByte('\n')

	if chainPath, err = ws.Write("chain_"+id, chain.Bytes()); err != nil {
		return "", "", nil, err
	}
	return certPath, chainPath, full.Bytes(), nil
}

func (in *Installer) fetch(ctx context.Context, caller rights.Caller, ref AttachmentRef) ([]byte, error) {
	data, err := in.uploads.Fetch(ctx, caller.AccountID, ref.AttachmentID, caller.AuthToken)
	if err != nil {
		if errors.Is(err, certderrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: file %s uploaded as %s was not found", certderrors.ErrNotFound, ref.Filename, ref.AttachmentID)
		}
		return nil, err
	}
	logger.Get().Debug().Str("filename", ref.Filename).Str("aid", ref.AttachmentID).Msg("uploaded file fetched")
	return data, nil
}

// privateKey finds the key the commercial certificate was requested with.
// Cluster installs prefer the global configuration and fall back to the
// local server, where createcsr stores it.
func (in *Installer) privateKey(ctx context.Context, server *directory.Entry, all bool) (string, error) {
	var key string
	if all {
		cfg, err := in.store.GetConfig(ctx)
		if err != nil {
			return "", err
		}
		if key, err = in.store.SSLPrivateKey(ctx, cfg); err != nil {
			return "", err
		}
	}
	if key == "" {
		var err error
		if key, err = in.store.SSLPrivateKey(ctx, server); err != nil {
			return "", err
		}
	}
	if key == "" {
		return "", fmt.Errorf("%w: %s is not present", certderrors.ErrIllegalState, directory.AttrSSLPrivateKey)
	}
	return key, nil
}

func (in *Installer) verify(ctx context.Context, local *directory.Entry, argv []string) error {
	if _, err := in.runner.runParsed(ctx, local, argv); err != nil {
		var failed *certderrors.RemoteCommandError
		if errors.As(err, &failed) {
			return fmt.Errorf("%w: %s exited with %d: %s", certderrors.ErrVerification, argv[1], failed.ExitCode, failed.Stderr)
		}
		return err
	}
	return nil
}

func (in *Installer) persistChain(ctx context.Context, server *directory.Entry, all bool, chain []byte) error {
	entry := server
	if all {
		cfg, err := in.store.GetConfig(ctx)
		if err != nil {
			return err
		}
		entry = cfg
	}
	if err := in.store.ModifyAttributes(ctx, entry, map[string]string{directory.AttrSSLCertificate: string(chain)}); err != nil {
		return err
	}
	logger.Get().Info().
		Str("event_category", "security").
		Str("entry", string(entry.Kind)+":"+entry.Name).
		Msg("certificate chain saved")
	return nil
}
