package certmgr

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	certderrors "certd/internal/errors"
)

var (
	outputNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.()/-]*$`)
	csrPattern        = regexp.MustCompile(`(?s)-----BEGIN (NEW )?CERTIFICATE REQUEST-----.*?-----END (NEW )?CERTIFICATE REQUEST-----`)
)

// ParseOutput reads the "Name: Value" lines printed by the certificate tool.
// "Name=Value" is accepted too; whichever separator comes first splits the
// line. Banner and noise lines are skipped.
func ParseOutput(stdout []byte) (map[string]string, error) {
	if !utf8.Valid(stdout) {
		return nil, fmt.Errorf("%w: command output is not valid UTF-8", certderrors.ErrParse)
	}
	fields := make(map[string]string)
	for _, line := range strings.Split(string(stdout), "\n") {
		line = strings.TrimRight(line, "\r")
		sep := strings.IndexAny(line, ":=")
		if sep <= 0 {
			continue
		}
		name := strings.TrimSpace(line[:sep])
		if !outputNamePattern.MatchString(name) {
			continue
		}
		fields[name] = strings.TrimSpace(line[sep+1:])
	}
	return fields, nil
}

// CleanCSROutput extracts the PEM certificate request from tool output.
func CleanCSROutput(stdout []byte) (string, error) {
	block := csrPattern.Find(stdout)
	if block == nil {
		return "", fmt.Errorf("%w: no certificate request in command output", certderrors.ErrParse)
	}
	return string(block) + "\n", nil
}
