// Package rights authenticates administrators and checks their rights on
// directory entries.
package rights

import (
	"context"

	"certd/internal/directory"
)

// Right is an administrative permission on a directory entry.
type Right string

const (
	RightGenerateCSR          Right = "generateCSR"
	RightInstallCertificate   Right = "installCertificate"
	RightGetCertificateInfo   Right = "getCertificateInfo"
	RightGetDomainCertificate Right = "getDomainCertificate"
	RightGetCSR               Right = "getCSR"
	RightVerifyCertKey        Right = "verifyCertKey"
)

// Known lists every right, in declaration order.
var Known = []Right{
	RightGenerateCSR,
	RightInstallCertificate,
	RightGetCertificateInfo,
	RightGetDomainCertificate,
	RightGetCSR,
	RightVerifyCertKey,
}

// Caller identifies the authenticated administrator behind a request.
type Caller struct {
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
	AuthToken string `json:"-"`
}

// Checker authorizes caller for right on target. Denials wrap
// errors.ErrUnauthorized.
type Checker interface {
	Check(ctx context.Context, caller Caller, target *directory.Entry, right Right) error
}
