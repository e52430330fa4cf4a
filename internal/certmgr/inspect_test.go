package certmgr

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"certd/internal/directory"
	certderrors "certd/internal/errors"
	"certd/internal/remote"
	"certd/internal/rights"
)

const deployedOutput = `** Retrieving certificate
subject=C = US, CN = mail1.example.com
issuer=CN = Example CA
notBefore=Jan  1 00:00:00 2024 GMT
notAfter=Jan  1 00:00:00 2026 GMT
SubjectAltName= DNS:mail1.example.com, DNS:webmail.example.com
`

func TestDeployedOrStaged_AllServersAllSlots(t *testing.T) {
	f := newFixture(t)
	f.exec.respond = func(_ *directory.Entry, _ []string) (remote.CommandResult, error) {
		return ok(deployedOutput)
	}

	report, err := f.service.GetCertificates(context.Background(), admin, AllServers(), "all", "")
	require.NoError(t, err)
	assert.Equal(t, 12, f.exec.count(), "four slots on each of three servers")
	require.Len(t, report.Certificates, 12)
	assert.Empty(t, report.Failures)
	assert.NoError(t, report.Err())

	perServer := map[string][]string{}
	for _, md := range report.Certificates {
		perServer[md.Server] = append(perServer[md.Server], md.Type)
	}
	for _, name := range []string{"mail1.example.com", "mta1.example.com", "proxy1.example.com"} {
		assert.ElementsMatch(t, []string{"ldap", "mailboxd", "mta", "proxy"}, perServer[name], name)
	}

	md := report.Certificates[0]
	assert.Equal(t, "C = US, CN = mail1.example.com", md.Subject)
	assert.Equal(t, "CN = Example CA", md.Issuer)
	assert.Equal(t, []string{"mail1.example.com", "webmail.example.com"}, md.SubjectAltNames)
}

func TestDeployedOrStaged_OneServerFails(t *testing.T) {
	f := newFixture(t)
	f.exec.respond = func(server *directory.Entry, _ []string) (remote.CommandResult, error) {
		if server.Name == "proxy1.example.com" {
			return remote.CommandResult{ExitCode: 1, Stderr: []byte("unreachable")}, nil
		}
		return ok(deployedOutput)
	}

	report, err := f.service.GetCertificates(context.Background(), admin, AllServers(), "all", "")
	require.NoError(t, err)
	assert.Len(t, report.Certificates, 8)
	require.Len(t, report.Failures, 4)
	for _, failure := range report.Failures {
		assert.Equal(t, "proxy1.example.com", failure.Server)
		assert.Contains(t, failure.Error, "unreachable")
	}
	assert.ErrorIs(t, report.Err(), certderrors.ErrRemoteCommand)
}

func TestDeployedOrStaged_AuthorizationPerServer(t *testing.T) {
	f := newFixture(t)
	checker := &rights.MockChecker{}
	denied := func(e *directory.Entry) bool { return e.ID == "s2" }
	checker.On("Check", mock.Anything, admin, mock.MatchedBy(denied), rights.RightGetCertificateInfo).Return(certderrors.ErrUnauthorized)
	checker.On("Check", mock.Anything, admin, mock.Anything, rights.RightGetCertificateInfo).Return(nil)
	f.service = NewService(Deps{Store: f.store, Rights: checker, Executor: f.exec, Uploads: f.uploads, ToolPath: testTool, TempDir: f.tempDir})

	report, err := f.service.GetCertificates(context.Background(), admin, AllServers(), "mta", "")
	require.NoError(t, err)
	assert.Len(t, report.Certificates, 2)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "mta1.example.com", report.Failures[0].Server)
	assert.ErrorIs(t, report.Err(), certderrors.ErrUnauthorized)

	_, err = f.service.GetCertificates(context.Background(), admin, SpecificServer("s2"), "mta", "")
	assert.ErrorIs(t, err, certderrors.ErrUnauthorized)
}

func TestDeployedOrStaged_Queries(t *testing.T) {
	tests := []struct {
		name     string
		certType string
		option   string
		expect   [][]string
	}{
		{name: "single slot", certType: "proxy", expect: [][]string{{testTool, "viewdeployedcrt", "proxy"}}},
		{name: "staged self", certType: "staged", option: "self", expect: [][]string{{testTool, "viewstagedcrt", "self"}}},
		{name: "staged commercial", certType: "STAGED", option: "commercial", expect: [][]string{{testTool, "viewstagedcrt", "comm"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			report, err := f.service.GetCertificates(context.Background(), admin, SpecificServer("mail1.example.com"), tt.certType, tt.option)
			require.NoError(t, err)
			require.Len(t, report.Certificates, len(tt.expect))
			got := make([][]string, 0, len(f.exec.calls))
			for _, c := range f.exec.calls {
				got = append(got, c.argv)
				assert.Equal(t, "mail1.example.com", c.server)
			}
			assert.Equal(t, tt.expect, got)
		})
	}
}

func TestDeployedOrStaged_InvalidCombination(t *testing.T) {
	for _, q := range []struct{ certType, option string }{
		{"staged", ""},
		{"staged", "all"},
		{"deployed", ""},
		{"", ""},
	} {
		f := newFixture(t)
		_, err := f.service.GetCertificates(context.Background(), admin, AllServers(), q.certType, q.option)
		assert.ErrorIs(t, err, certderrors.ErrInvalidInput, "%s/%s", q.certType, q.option)
		assert.Zero(t, f.exec.count())
	}
}

func selfSignedPEM(t *testing.T, cn string, dns ...string) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(4242),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"Example"}},
		NotBefore:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		DNSNames:     dns,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestDomainCertificate(t *testing.T) {
	f := newFixture(t)
	domain, err := f.store.GetDomain(context.Background(), directory.DomainByID, "d1")
	require.NoError(t, err)
	chain := selfSignedPEM(t, "example.com", "example.com", "www.example.com") + rootPEM
	require.NoError(t, f.store.ModifyAttributes(context.Background(), domain, map[string]string{directory.AttrSSLCertificate: chain}))

	for _, key := range []string{"d1", "example.com"} {
		md, err := f.service.GetDomainCertificate(context.Background(), admin, key)
		require.NoError(t, err, key)
		assert.Equal(t, "domain", md.Type)
		assert.Equal(t, "example.com", md.Domain)
		assert.Equal(t, "CN=example.com,O=Example", md.Subject)
		assert.Equal(t, []string{"example.com", "www.example.com"}, md.SubjectAltNames)
		assert.Equal(t, "Jan 01 2026 00:00:00 UTC", md.NotAfter)
	}
	assert.Zero(t, f.exec.count(), "domain certificates are read from the directory")
}

func TestDomainCertificate_Errors(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.GetDomainCertificate(context.Background(), admin, "d1")
	assert.ErrorIs(t, err, certderrors.ErrNotFound, "no certificate stored")

	_, err = f.service.GetDomainCertificate(context.Background(), admin, "missing.example.org")
	assert.ErrorIs(t, err, certderrors.ErrNotFound)

	domain, err := f.store.GetDomain(context.Background(), directory.DomainByID, "d1")
	require.NoError(t, err)
	require.NoError(t, f.store.ModifyAttributes(context.Background(), domain, map[string]string{directory.AttrSSLCertificate: "garbage"}))
	_, err = f.service.GetDomainCertificate(context.Background(), admin, "d1")
	assert.ErrorIs(t, err, certderrors.ErrParse)
}

func TestDomainCertificate_AuthorizedBeforeLookup(t *testing.T) {
	f := newFixture(t)
	checker := &rights.MockChecker{}
	checker.On("Check", mock.Anything, admin, mock.Anything, rights.RightGetDomainCertificate).Return(certderrors.ErrUnauthorized)
	f.service = NewService(Deps{Store: f.store, Rights: checker, Executor: f.exec, Uploads: f.uploads, ToolPath: testTool, TempDir: f.tempDir})

	_, err := f.service.GetDomainCertificate(context.Background(), admin, "d1")
	assert.ErrorIs(t, err, certderrors.ErrUnauthorized, "a domain without certificate still requires the right")
}
