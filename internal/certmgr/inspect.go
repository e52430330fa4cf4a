package certmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"certd/internal/certs"
	"certd/internal/directory"
	certderrors "certd/internal/errors"
	"certd/internal/logger"
	"certd/internal/rights"
)

// Failure records a certificate that could not be read.
type Failure struct {
	Server string `json:"server"`
	Slot   string `json:"slot,omitempty"`
	Error  string `json:"error"`
	err    error
}

// InspectionReport lists the certificates read and, separately, what could
// not be read.
type InspectionReport struct {
	Certificates []certs.Metadata `json:"certificates"`
	Failures     []Failure        `json:"failures,omitempty"`
}

// Err aggregates the failures, or returns nil when there are none.
func (r *InspectionReport) Err() error {
	var result *multierror.Error
	for _, f := range r.Failures {
		result = multierror.Append(result, fmt.Errorf("%s/%s: %w", f.Server, f.Slot, f.err))
	}
	return result.ErrorOrNil()
}

func (r *InspectionReport) fail(server, slot string, err error) {
	r.Failures = append(r.Failures, Failure{Server: server, Slot: slot, Error: err.Error(), err: err})
}

// slotQuery is one certificate read on one server.
type slotQuery struct {
	label string
	argv  []string
}

// Inspector reads deployed, staged and domain certificates.
type Inspector struct {
	store  directory.Store
	rights rights.Checker
	runner runner
}

// queries checks the certType/option combination before anything runs.
// certType is "all", one of certs.Slots, or "staged" with option self|comm.
func (i *Inspector) queries(certType, option string) ([]slotQuery, error) {
	certType = strings.ToLower(strings.TrimSpace(certType))
	switch certType {
	case "all":
		out := make([]slotQuery, 0, len(certs.Slots))
		for _, slot := range certs.Slots {
			out = append(out, slotQuery{label: slot, argv: i.runner.cmd.viewDeployedCrt(slot)})
		}
		return out, nil
	case "staged":
		staged, err := ParseCertType(option)
		if err != nil {
			return nil, certderrors.Invalid("option", option, "staged certificates need option 'self' or 'comm'")
		}
		return []slotQuery{{label: string(staged), argv: i.runner.cmd.viewStagedCrt(staged)}}, nil
	}
	for _, slot := range certs.Slots {
		if certType == slot {
			return []slotQuery{{label: slot, argv: i.runner.cmd.viewDeployedCrt(slot)}}, nil
		}
	}
	return nil, certderrors.Invalid("type", certType, "must be all, staged, or one of "+strings.Join(certs.Slots, ", "))
}

// DeployedOrStaged reads certificates on one server or, for AllServers, on
// every known server. A slot that cannot be read is logged and listed in
// the report's Failures without stopping the others.
func (i *Inspector) DeployedOrStaged(ctx context.Context, caller rights.Caller, target ServerTarget, certType, option string) (*InspectionReport, error) {
	queries, err := i.queries(certType, option)
	if err != nil {
		return nil, err
	}

	var servers []*directory.Entry
	if target.IsAll() {
		if servers, err = i.store.ListServers(ctx); err != nil {
			return nil, err
		}
	} else {
		server, err := target.resolve(ctx, i.store)
		if err != nil {
			return nil, err
		}
		servers = []*directory.Entry{server}
	}

	report := &InspectionReport{Certificates: []certs.Metadata{}}
	for _, server := range servers {
		if err := i.rights.Check(ctx, caller, server, rights.RightGetCertificateInfo); err != nil {
			if !target.IsAll() {
				return nil, err
			}
			report.fail(server.Name, "", err)
			continue
		}
		for _, q := range queries {
			md, err := i.read(ctx, server, q)
			if err != nil {
				logger.Get().Warn().Str("server", server.Name).Str("slot", q.label).Err(err).Msg("failed to read certificate")
				report.fail(server.Name, q.label, err)
				continue
			}
			report.Certificates = append(report.Certificates, md)
		}
	}
	return report, nil
}

func (i *Inspector) read(ctx context.Context, server *directory.Entry, q slotQuery) (certs.Metadata, error) {
	fields, err := i.runner.runParsed(ctx, server, q.argv)
	if err != nil {
		return certs.Metadata{}, err
	}
	md := certs.FromToolOutput(q.label, fields)
	md.Server = server.Name
	return md, nil
}

// DomainCertificate decodes the certificate stored on a domain.
func (i *Inspector) DomainCertificate(ctx context.Context, caller rights.Caller, domainID string) (certs.Metadata, error) {
	domain, err := i.store.GetDomain(ctx, directory.DomainByID, domainID)
	if errors.Is(err, certderrors.ErrNotFound) {
		domain, err = i.store.GetDomain(ctx, directory.DomainByName, domainID)
	}
	if err != nil {
		if errors.Is(err, certderrors.ErrNotFound) {
			return certs.Metadata{}, fmt.Errorf("%w: domain %s could not be found", certderrors.ErrNotFound, domainID)
		}
		return certs.Metadata{}, err
	}
	if err := i.rights.Check(ctx, caller, domain, rights.RightGetDomainCertificate); err != nil {
		return certs.Metadata{}, err
	}

	chain := domain.Attr(directory.AttrSSLCertificate)
	if chain == "" {
		return certs.Metadata{}, fmt.Errorf("%w: domain %s has no certificate", certderrors.ErrNotFound, domain.Name)
	}
	cert, err := certs.ParseLeaf(chain)
	if err != nil {
		return certs.Metadata{}, err
	}
	md := certs.FromX509(cert)
	md.Domain = domain.Name
	md.Type = "domain"
	return md, nil
}
