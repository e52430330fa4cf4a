package certmgr

import (
	"context"

	"certd/internal/directory"
	"certd/internal/logger"
	"certd/internal/rights"
)

// CSRGenerator creates certificate signing requests on a server.
type CSRGenerator struct {
	store  directory.Store
	rights rights.Checker
	runner runner
}

// Generate returns the name of the server the request was created on. A
// request without NewCSR succeeds without running anything.
func (g *CSRGenerator) Generate(ctx context.Context, caller rights.Caller, target ServerTarget, req CertificateRequest) (string, error) {
	server, err := target.resolve(ctx, g.store)
	if err != nil {
		return "", err
	}
	if err := g.rights.Check(ctx, caller, server, rights.RightGenerateCSR); err != nil {
		return "", err
	}
	if !req.NewCSR {
		logger.Get().Info().Str("server", server.Name).Msg("no new CSR needs to be created")
		return server.Name, nil
	}

	argv, err := g.runner.cmd.createCSR(req, target.IsAll())
	if err != nil {
		return "", err
	}
	logger.Get().Info().
		Str("event_category", "security").
		Str("account", caller.Name).
		Str("server", server.Name).
		Bool("all_servers", target.IsAll()).
		Msg("generating CSR")

	res, err := g.runner.run(ctx, server, argv)
	if err != nil {
		return "", err
	}
	logger.Get().Debug().Str("server", server.Name).Str("stdout", string(res.Stdout)).Msg("createcsr output")
	return server.Name, nil
}
