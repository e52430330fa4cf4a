package certmgr

import (
	"regexp"
	"strings"

	certderrors "certd/internal/errors"
	"certd/internal/validation"
)

// subjectPattern is the allow-list enforced by the remote command daemon for
// certificate tool arguments.
var subjectPattern = regexp.MustCompile(`^[a-zA-Z0-9/.\-\\_:@,='"* ]*$`)

var subjectEscaper = strings.NewReplacer(`\`, `\\`, `/`, `\/`, `'`, `\'`, `"`, `\"`)

// SubjectFields are the distinguished name attributes of a new certificate.
type SubjectFields struct {
	C  string `json:"C,omitempty"`
	ST string `json:"ST,omitempty"`
	L  string `json:"L,omitempty"`
	O  string `json:"O,omitempty"`
	OU string `json:"OU,omitempty"`
	CN string `json:"CN,omitempty"`
}

func ValidateCountryCode(code string) error {
	return validation.ValidateCountryCode(code)
}

// BuildSubject renders fields as "/C=../ST=../L=../O=../OU=../CN=..",
// skipping empty ones. Values are escaped so they cannot start a new RDN.
func BuildSubject(fields SubjectFields) (string, error) {
	if err := ValidateCountryCode(fields.C); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, attr := range []struct{ name, value string }{
		{"C", fields.C},
		{"ST", fields.ST},
		{"L", fields.L},
		{"O", fields.O},
		{"OU", fields.OU},
		{"CN", fields.CN},
	} {
		if attr.value == "" {
			continue
		}
		b.WriteString("/")
		b.WriteString(attr.name)
		b.WriteString("=")
		b.WriteString(subjectEscaper.Replace(attr.value))
	}
	subject := b.String()
	if !subjectPattern.MatchString(subject) {
		return "", certderrors.Invalid("subject", subject, "subject contains characters that are not allowed")
	}
	return subject, nil
}

// BuildSubjectAltNames validates every host and joins them with commas.
// Blank entries are ignored.
func BuildSubjectAltNames(hosts []string) (string, error) {
	valid := make([]string, 0, len(hosts))
	for _, host := range hosts {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		if err := validation.ValidateHost(host); err != nil {
			return "", err
		}
		valid = append(valid, host)
	}
	return strings.Join(valid, ","), nil
}
