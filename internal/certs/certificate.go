package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	certderrors "certd/internal/errors"
)

// ValidityLayout renders validity dates, e.g. "Nov 22 2022 16:26:01 UTC".
const ValidityLayout = "Jan 02 2006 15:04:05 MST"

// Slots names the components a certificate can be deployed to.
var Slots = []string{"ldap", "mailboxd", "mta", "proxy"}

// Metadata describes one certificate as reported to operators. It is
// rebuilt on every request.
type Metadata struct {
	Server          string            `json:"server,omitempty"`
	Domain          string            `json:"domain,omitempty"`
	Type            string            `json:"type"`
	Subject         string            `json:"subject,omitempty"`
	Issuer          string            `json:"issuer,omitempty"`
	NotBefore       string            `json:"notBefore,omitempty"`
	NotAfter        string            `json:"notAfter,omitempty"`
	SubjectAltNames []string          `json:"subjectAltNames,omitempty"`
	SerialNumber    string            `json:"serialNumber,omitempty"`
	Fingerprint     string            `json:"fingerprintSHA256,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// Expiry is the parsed NotAfter of a stored certificate, used by the
// expiry collector.
type Expiry struct {
	Domain     string
	CommonName string
	Serial     string
	ExpiresAt  time.Time
}

// ParseLeaf decodes the first PEM block of chain as an X.509 certificate.
func ParseLeaf(chain string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(chain))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found in certificate data", certderrors.ErrParse)
	}
	if block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%w: unexpected PEM block type %q", certderrors.ErrParse, block.Type)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: failure on generating certificate: %v", certderrors.ErrParse, err)
	}
	return cert, nil
}

// SubjectAltNames lists DNS names, IP addresses and e-mail addresses in that
// order.
func SubjectAltNames(cert *x509.Certificate) []string {
	names := make([]string, 0, len(cert.DNSNames)+len(cert.IPAddresses)+len(cert.EmailAddresses))
	names = append(names, cert.DNSNames...)
	for _, address := range cert.IPAddresses {
		names = append(names, address.String())
	}
	names = append(names, cert.EmailAddresses...)
	return names
}

// FromX509 builds the metadata of a parsed certificate.
func FromX509(cert *x509.Certificate) Metadata {
	fingerprint := sha256.Sum256(cert.Raw)
	return Metadata{
		Subject:         cert.Subject.String(),
		Issuer:          cert.Issuer.String(),
		NotBefore:       cert.NotBefore.UTC().Format(ValidityLayout),
		NotAfter:        cert.NotAfter.UTC().Format(ValidityLayout),
		SubjectAltNames: SubjectAltNames(cert),
		SerialNumber:    strings.ToUpper(cert.SerialNumber.Text(16)),
		Fingerprint:     hex.EncodeToString(fingerprint[:]),
	}
}

// FromToolOutput maps the name/value pairs printed by the certificate tool
// for one deployed or staged certificate. Unrecognized names are kept in
// Attributes.
func FromToolOutput(certType string, fields map[string]string) Metadata {
	md := Metadata{Type: certType}
	for name, value := range fields {
		switch strings.ToLower(name) {
		case "subject":
			md.Subject = value
		case "issuer":
			md.Issuer = value
		case "notbefore":
			md.NotBefore = value
		case "notafter":
			md.NotAfter = value
		case "subjectaltname", "subjectaltnames":
			md.SubjectAltNames = splitAltNames(value)
		case "serial":
			md.SerialNumber = value
		default:
			if md.Attributes == nil {
				md.Attributes = make(map[string]string)
			}
			md.Attributes[name] = value
		}
	}
	return md
}

func splitAltNames(value string) []string {
	parts := strings.Split(value, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		part = strings.TrimPrefix(part, "DNS:")
		part = strings.TrimPrefix(part, "IP Address:")
		if part != "" {
			names = append(names, part)
		}
	}
	return names
}
