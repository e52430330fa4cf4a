package certmgr

import (
	"context"
	"errors"
	"io/fs"
	"strings"

	"github.com/hashicorp/go-multierror"

	"certd/internal/directory"
	"certd/internal/logger"
	"certd/internal/rights"
)

// File names expected by "verifycrt comm".
const (
	commKeyFile  = "commercial.key"
	commCertFile = "commercial.crt"
	commCAFile   = "commercial_ca.crt"
)

const pemMarker = "-----"

// Verifier checks that a pasted certificate, private key and chain belong
// together.
type Verifier struct {
	store      directory.Store
	rights     rights.Checker
	runner     runner
	workspaces *WorkspaceStore
}

// Verify reports whether the tool accepted the triple. An empty chain means
// the certificate is its own chain. Empty input is invalid without running
// anything.
func (v *Verifier) Verify(ctx context.Context, caller rights.Caller, certPEM, keyPEM, chainPEM string) (bool, error) {
	local, err := v.store.GetLocalServer(ctx)
	if err != nil {
		return false, err
	}
	if err := v.rights.Check(ctx, caller, local, rights.RightVerifyCertKey); err != nil {
		return false, err
	}

	if chainPEM == "" {
		chainPEM = certPEM
	}
	crt := FormatValidContent(certPEM)
	key := FormatValidContent(keyPEM)
	chain := FormatValidContent(chainPEM)
	if strings.TrimSpace(crt) == "" || strings.TrimSpace(key) == "" {
		return false, nil
	}

	ws, err := v.workspaces.Create()
	if err != nil {
		return false, err
	}
	var written []string
	defer func() { v.cleanup(ws, written) }()

	paths := make(map[string]string, 3)
	for _, f := range []struct{ name, content string }{
		{commCertFile, crt},
		{commCAFile, chain},
		{commKeyFile, key},
	} {
		// Tracked before writing: a failed write can still leave a file.
		written = append(written, f.name)
		p, err := ws.Write(f.name, []byte(f.content))
		if err != nil {
			return false, err
		}
		paths[f.name] = p
	}

	// Success is judged on the output only: the tool reports problems in
	// text.
	res, err := v.runner.exec.Execute(ctx, local, v.runner.cmd.verifyCrt(paths[commKeyFile], paths[commCertFile], paths[commCAFile]))
	if err != nil {
		return false, err
	}
	output := res.Combined()
	ok := !strings.Contains(strings.ToLower(output), "error")
	logger.Get().Info().
		Str("event_category", "security").
		Bool("verify_result", ok).
		Str("output", output).
		Msg("certificate and key verification")
	return ok, nil
}

// cleanup deletes each file and then the directory. When anything is left
// behind the whole directory is removed. Failures are logged and do not
// change the verification result.
func (v *Verifier) cleanup(ws *Workspace, names []string) {
	var result *multierror.Error
	for _, name := range names {
		if err := ws.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result = multierror.Append(result, err)
		}
	}
	if err := ws.RemoveDir(); err != nil {
		result = multierror.Append(result, err)
		if err := ws.Destroy(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		logger.SecurityEvent("cleanup").
			Str("dir", ws.Dir()).
			Err(err).
			Msg("file(s) of commercial certificate or private key were not deleted")
	}
}

// FormatValidContent normalizes pasted PEM text. Whitespace right before or
// after a "-----" marker splits the input; BEGIN and END lines are put on
// their own lines and any whitespace left in the body becomes a newline.
// Stray spaces inside base64 content are therefore not repaired and make
// the tool reject the input.
func FormatValidContent(input string) string {
	var b strings.Builder
	for _, piece := range splitAtMarkers(input) {
		switch {
		case strings.Contains(piece, pemMarker+"BEGIN"):
			b.WriteString(piece)
			b.WriteString("\n")
		case strings.Contains(piece, pemMarker+"END"):
			b.WriteString("\n")
			b.WriteString(piece)
			b.WriteString("\n")
		default:
			b.WriteString(strings.Map(func(r rune) rune {
				if isPEMSpace(r) {
					return '\n'
				}
				return r
			}, piece))
		}
	}
	return b.String()
}

// splitAtMarkers splits on single whitespace characters adjacent to a
// marker and drops trailing empty pieces.
func splitAtMarkers(s string) []string {
	var pieces []string
	start := 0
	for i := 0; i < len(s); i++ {
		if !isPEMSpace(rune(s[i])) {
			continue
		}
		if strings.HasPrefix(s[i+1:], pemMarker) || strings.HasSuffix(s[:i], pemMarker) {
			pieces = append(pieces, s[start:i])
			start = i + 1
		}
	}
	pieces = append(pieces, s[start:])
	for len(pieces) > 0 && pieces[len(pieces)-1] == "" {
		pieces = pieces[:len(pieces)-1]
	}
	return pieces
}

func isPEMSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
