// Package certmgr drives the certificate tool across the cluster: CSR
// generation, certificate installation, inspection and key verification.
package certmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"certd/internal/directory"
	certderrors "certd/internal/errors"
)

// AllServersSentinel is the legacy server value meaning every server.
const AllServersSentinel = "--- All Servers ---"

// ServerTarget is either one server or the whole cluster.
type ServerTarget struct {
	id  string
	all bool
}

func SpecificServer(id string) ServerTarget {
	return ServerTarget{id: id}
}

func AllServers() ServerTarget {
	return ServerTarget{all: true}
}

// ParseServerTarget accepts a server id or name, the legacy sentinel, or "all".
func ParseServerTarget(s string) ServerTarget {
	s = strings.TrimSpace(s)
	if s == AllServersSentinel || strings.EqualFold(s, "all") {
		return AllServers()
	}
	return SpecificServer(s)
}

func (t ServerTarget) IsAll() bool {
	return t.all
}

func (t ServerTarget) ID() string {
	return t.id
}

func (t ServerTarget) String() string {
	if t.all {
		return AllServersSentinel
	}
	return t.id
}

// resolve returns the server commands are sent to. The whole cluster is
// addressed through the local server.
func (t ServerTarget) resolve(ctx context.Context, store directory.Store) (*directory.Entry, error) {
	if t.all {
		return store.GetLocalServer(ctx)
	}
	return findServer(ctx, store, t.id)
}

func findServer(ctx context.Context, store directory.Store, key string) (*directory.Entry, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: no server given", certderrors.ErrNotFound)
	}
	server, err := store.GetServer(ctx, directory.ServerByID, key)
	if errors.Is(err, certderrors.ErrNotFound) {
		server, err = store.GetServer(ctx, directory.ServerByName, key)
	}
	if errors.Is(err, certderrors.ErrNotFound) {
		return nil, fmt.Errorf("%w: server with id %s could not be found", certderrors.ErrNotFound, key)
	}
	return server, err
}

// CertType selects self-signed or commercial certificates.
type CertType string

const (
	CertTypeSelf CertType = "self"
	CertTypeComm CertType = "comm"
)

// ParseCertType accepts "self", "comm" and "commercial".
func ParseCertType(s string) (CertType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "self":
		return CertTypeSelf, nil
	case "comm", "commercial":
		return CertTypeComm, nil
	case "":
		return "", certderrors.Invalid("type", "", "no valid certificate type is set")
	default:
		return "", certderrors.Invalid("type", s, "must be 'self' or 'comm'")
	}
}

// CertificateRequest carries operator parameters for CSR generation and
// installation. Numeric values stay strings until validated.
type CertificateRequest struct {
	Type            string        `json:"type"`
	NewCSR          bool          `json:"newCSR"`
	KeySize         string        `json:"keysize,omitempty"`
	Digest          string        `json:"digest,omitempty"`
	ValidityDays    string        `json:"validationDays,omitempty"`
	Subject         SubjectFields `json:"subject"`
	SubjectAltNames []string      `json:"subjectAltNames,omitempty"`
	SkipCleanup     bool          `json:"skipCleanup,omitempty"`
}

// AttachmentRef points at a previously uploaded file.
type AttachmentRef struct {
	AttachmentID string `json:"aid"`
	Filename     string `json:"filename,omitempty"`
}

// UploadedCertBundle references the uploaded commercial certificate and its
// chain.
type UploadedCertBundle struct {
	Cert            *AttachmentRef  `json:"cert"`
	RootCA          *AttachmentRef  `json:"rootCA"`
	IntermediateCAs []AttachmentRef `json:"intermediateCA,omitempty"`
}

func (b *UploadedCertBundle) validate() error {
	if b == nil {
		return certderrors.Invalid("commCert", "", "commCert element could not be found")
	}
	if b.Cert == nil || b.Cert.AttachmentID == "" {
		return certderrors.Invalid("commCert.cert", "", "certificate upload reference could not be found")
	}
	if b.RootCA == nil || b.RootCA.AttachmentID == "" {
		return certderrors.Invalid("commCert.rootCA", "", "root CA upload reference could not be found")
	}
	return nil
}
