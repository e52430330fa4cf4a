package validation

import (
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/idna"

	certderrors "certd/internal/errors"
)

// MinKeySize is the smallest RSA key size accepted for new keys.
const MinKeySize = 2048

var (
	countryCodePattern = regexp.MustCompile(`^[a-zA-Z]{2}$`)
	digestPattern      = regexp.MustCompile(`^[a-zA-Z0-9]*$`)
	digitsPattern      = regexp.MustCompile(`^[0-9]+$`)
	hostLabelPattern   = regexp.MustCompile(`^[a-zA-Z0-9_]([a-zA-Z0-9_-]*[a-zA-Z0-9_])?$`)
)

var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.StrictDomainName(false),
	idna.VerifyDNSLength(true),
	idna.BidiRule(),
)

// ValidateCountryCode accepts exactly two ASCII letters. An empty code means
// the field was not supplied.
func ValidateCountryCode(code string) error {
	if code == "" {
		return nil
	}
	if !countryCodePattern.MatchString(code) {
		return certderrors.Invalid("C", code, "country code must be 2 letters")
	}
	return nil
}

func ValidateDigest(digest string) error {
	if !digestPattern.MatchString(digest) {
		return certderrors.Invalid("digest", digest, "digest must be alphanumeric")
	}
	return nil
}

func ValidateKeySize(keySize string) error {
	if !digitsPattern.MatchString(keySize) {
		return certderrors.Invalid("keysize", keySize, "key size must be a number")
	}
	size, err := strconv.Atoi(keySize)
	if err != nil || size < MinKeySize {
		return certderrors.Invalid("keysize", keySize, "minimum allowed key size is 2048")
	}
	return nil
}

func ValidateValidityDays(days string) error {
	if !digitsPattern.MatchString(days) {
		return certderrors.Invalid("validation_days", days, "validity days must be a number")
	}
	return nil
}

// ValidateHost accepts IP literals and host names that survive IDNA lookup
// mapping with DNS length checks. The last label may not start with a digit.
func ValidateHost(host string) error {
	if net.ParseIP(host) != nil {
		return nil
	}
	invalid := certderrors.Invalid("subjectAltName", host, "invalid host name")
	ascii, err := hostProfile.ToASCII(host)
	if err != nil || ascii == "" {
		return invalid
	}
	labels := strings.Split(strings.TrimSuffix(ascii, "."), ".")
	for _, label := range labels {
		if !hostLabelPattern.MatchString(label) {
			return invalid
		}
	}
	last := labels[len(labels)-1]
	if last[0] >= '0' && last[0] <= '9' {
		return invalid
	}
	return nil
}

func ValidateVaultAddress(address string) error {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return certderrors.ErrInvalidSettings
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return certderrors.ErrInvalidSettings
	}
	return nil
}

func ValidateLDAPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return certderrors.ErrInvalidSettings
	}
	switch u.Scheme {
	case "ldap", "ldaps", "ldapi":
		return nil
	default:
		return certderrors.ErrInvalidSettings
	}
}

func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return certderrors.ErrInvalidSettings
	}
	return nil
}
