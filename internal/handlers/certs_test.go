package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"certd/internal/certmgr"
	"certd/internal/certs"
	certderrors "certd/internal/errors"
	"certd/internal/handlers"
	"certd/internal/rights"
	"certd/middleware"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) GenerateCSR(ctx context.Context, caller rights.Caller, target certmgr.ServerTarget, req certmgr.CertificateRequest) (string, error) {
	args := m.Called(ctx, caller, target, req)
	return args.String(0), args.Error(1)
}

func (m *mockService) InstallCertificate(ctx context.Context, caller rights.Caller, target certmgr.ServerTarget, req certmgr.CertificateRequest, bundle *certmgr.UploadedCertBundle) (string, error) {
	args := m.Called(ctx, caller, target, req, bundle)
	return args.String(0), args.Error(1)
}

func (m *mockService) GetCertificates(ctx context.Context, caller rights.Caller, target certmgr.ServerTarget, certType, option string) (*certmgr.InspectionReport, error) {
	args := m.Called(ctx, caller, target, certType, option)
	report, _ := args.Get(0).(*certmgr.InspectionReport)
	return report, args.Error(1)
}

func (m *mockService) GetDomainCertificate(ctx context.Context, caller rights.Caller, domainID string) (certs.Metadata, error) {
	args := m.Called(ctx, caller, domainID)
	return args.Get(0).(certs.Metadata), args.Error(1)
}

func (m *mockService) VerifyCertKey(ctx context.Context, caller rights.Caller, certPEM, keyPEM, chainPEM string) (bool, error) {
	args := m.Called(ctx, caller, certPEM, keyPEM, chainPEM)
	return args.Bool(0), args.Error(1)
}

func (m *mockService) DownloadCSR(ctx context.Context, caller rights.Caller, serverID string) (certmgr.CSR, error) {
	args := m.Called(ctx, caller, serverID)
	return args.Get(0).(certmgr.CSR), args.Error(1)
}

type recordingObserver struct {
	ops []string
}

func (o *recordingObserver) ObserveOperation(operation string, err error) {
	o.ops = append(o.ops, operation+":"+certderrors.Kind(err))
}

var operator = rights.Caller{AccountID: "acc-1", Name: "admin@example.com"}

type stubAccounts struct{}

func (stubAccounts) Authenticate(name, password string) (rights.Caller, error) {
	if name == operator.Name && password == "secret" {
		return operator, nil
	}
	return rights.Caller{}, certderrors.ErrInvalidCredentials
}

type testServer struct {
	router   *chi.Mux
	service  *mockService
	observer *recordingObserver
	token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	sessions := rights.NewSessionStore(time.Hour)
	auth := handlers.NewAuth(stubAccounts{}, sessions, false)
	service := &mockService{}
	observer := &recordingObserver{}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	handlers.RegisterAuthRoutes(r, auth)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireCaller)
		handlers.RegisterCertRoutes(r, service, observer)
	})

	session, _, err := sessions.Create(operator)
	require.NoError(t, err)
	return &testServer{router: r, service: service, observer: observer, token: session.AuthToken}
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		payload, _ = json.Marshal(b)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) handlers.ErrorResponse {
	t.Helper()
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func withCaller() interface{} {
	return mock.MatchedBy(func(c rights.Caller) bool { return c.AccountID == operator.AccountID })
}

func TestGenerateCSR_Success(t *testing.T) {
	s := newTestServer(t)
	expected := certmgr.CertificateRequest{
		Type:            "comm",
		NewCSR:          true,
		KeySize:         "2048",
		Subject:         certmgr.SubjectFields{CN: "mail.example.com"},
		SubjectAltNames: []string{"webmail.example.com"},
	}
	s.service.On("GenerateCSR", mock.Anything, withCaller(), certmgr.SpecificServer("s1"), expected).Return("mail1.example.com", nil)

	rec := s.do(http.MethodPost, "/api/certs/csr", `{"server":"s1","type":"comm","newCSR":true,"keysize":"2048","subject":{"CN":"mail.example.com"},"subjectAltNames":["webmail.example.com"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"server":"mail1.example.com"}`, rec.Body.String())
	assert.Equal(t, []string{"generate_csr:"}, s.observer.ops)
	s.service.AssertExpectations(t)
}

func TestGenerateCSR_AllServersSentinel(t *testing.T) {
	s := newTestServer(t)
	s.service.On("GenerateCSR", mock.Anything, withCaller(), certmgr.AllServers(), mock.Anything).Return("mail1.example.com", nil)
	rec := s.do(http.MethodPost, "/api/certs/csr", map[string]interface{}{"server": certmgr.AllServersSentinel, "type": "self", "newCSR": true})
	assert.Equal(t, http.StatusOK, rec.Code)
	s.service.AssertExpectations(t)
}

func TestGenerateCSR_BadPayload(t *testing.T) {
	s := newTestServer(t)
	tests := map[string]struct {
		body  string
		field string
	}{
		"malformed":      {body: `{"server":`, field: "body"},
		"unknown field":  {body: `{"server":"s1","extra":1}`, field: "body"},
		"missing server": {body: `{"type":"comm"}`, field: "server"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/certs/csr", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, "invalid_input", resp.Code)
			assert.Equal(t, tt.field, resp.Field)
		})
	}
	s.service.AssertNotCalled(t, "GenerateCSR", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid", certderrors.Invalid("keysize", "1024", "minimum allowed key size is 2048"), http.StatusBadRequest, "invalid_input"},
		{"forbidden", certderrors.ErrUnauthorized, http.StatusForbidden, "permission_denied"},
		{"not found", certderrors.ErrNotFound, http.StatusNotFound, "not_found"},
		{"illegal state", certderrors.ErrIllegalState, http.StatusConflict, "illegal_state"},
		{"verification", certderrors.ErrVerification, http.StatusUnprocessableEntity, "verification_failed"},
		{"remote", &certderrors.RemoteCommandError{Server: "mta1", ExitCode: 3, Stderr: "boom"}, http.StatusBadGateway, "remote_command_failed"},
		{"parse", certderrors.ErrParse, http.StatusInternalServerError, "internal"},
		{"io", certderrors.ErrIO, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.service.On("InstallCertificate", mock.Anything, withCaller(), certmgr.SpecificServer("s2"), mock.Anything, mock.Anything).Return("", tt.err)

			rec := s.do(http.MethodPost, "/api/certs/install", `{"server":"s2","type":"self"}`)
			assert.Equal(t, tt.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, []string{"install_certificate:" + certderrors.Kind(tt.err)}, s.observer.ops)
		})
	}
}

func TestErrorMapping_Details(t *testing.T) {
	s := newTestServer(t)
	s.service.On("InstallCertificate", mock.Anything, withCaller(), mock.Anything, mock.Anything, mock.Anything).
		Return("", &certderrors.RemoteCommandError{Server: "mta1", Command: []string{"zmcertmgr", "deploycrt"}, ExitCode: 3, Stderr: "boom"}).Once()
	rec := s.do(http.MethodPost, "/api/certs/install", `{"server":"s2","type":"self"}`)
	resp := decodeError(t, rec)
	require.NotNil(t, resp.ExitCode)
	assert.Equal(t, 3, *resp.ExitCode)
	assert.Equal(t, "boom", resp.Stderr)

	s.service.On("InstallCertificate", mock.Anything, withCaller(), mock.Anything, mock.Anything, mock.Anything).
		Return("", certderrors.Invalid("keysize", "1024", "too small")).Once()
	rec = s.do(http.MethodPost, "/api/certs/install", `{"server":"s2","type":"self"}`)
	resp = decodeError(t, rec)
	assert.Equal(t, "keysize", resp.Field)
	assert.Nil(t, resp.ExitCode)

	s.service.On("InstallCertificate", mock.Anything, withCaller(), mock.Anything, mock.Anything, mock.Anything).
		Return("", certderrors.ErrIO).Once()
	rec = s.do(http.MethodPost, "/api/certs/install", `{"server":"s2","type":"self"}`)
	resp = decodeError(t, rec)
	assert.Equal(t, http.StatusText(http.StatusInternalServerError), resp.Message, "internal details stay in the log")
}

func TestInstall_PassesBundle(t *testing.T) {
	s := newTestServer(t)
	expected := &certmgr.UploadedCertBundle{
		Cert:            &certmgr.AttachmentRef{AttachmentID: "a1", Filename: "leaf.crt"},
		RootCA:          &certmgr.AttachmentRef{AttachmentID: "a2"},
		IntermediateCAs: []certmgr.AttachmentRef{{AttachmentID: "a3"}},
	}
	s.service.On("InstallCertificate", mock.Anything, withCaller(), certmgr.SpecificServer("mta1.example.com"),
		certmgr.CertificateRequest{Type: "comm", SkipCleanup: true}, expected).Return("mta1.example.com", nil)

	rec := s.do(http.MethodPost, "/api/certs/install", `{"server":"mta1.example.com","type":"comm","skipCleanup":true,
		"commCert":{"cert":{"aid":"a1","filename":"leaf.crt"},"rootCA":{"aid":"a2"},"intermediateCA":[{"aid":"a3"}]}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	s.service.AssertExpectations(t)
}

func TestListCertificates(t *testing.T) {
	s := newTestServer(t)
	report := &certmgr.InspectionReport{
		Certificates: []certs.Metadata{{Server: "mail1.example.com", Type: "mta", Subject: "CN=mail1.example.com"}},
		Failures:     []certmgr.Failure{{Server: "proxy1.example.com", Slot: "mta", Error: "unreachable"}},
	}
	s.service.On("GetCertificates", mock.Anything, withCaller(), certmgr.AllServers(), "all", "").Return(report, nil)

	rec := s.do(http.MethodGet, "/api/certs?server=all", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var got certmgr.InspectionReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got.Certificates, 1)
	require.Len(t, got.Failures, 1)
	assert.Equal(t, "unreachable", got.Failures[0].Error)

	rec = s.do(http.MethodGet, "/api/certs", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "server", decodeError(t, rec).Field)
}

func TestListCertificates_Staged(t *testing.T) {
	s := newTestServer(t)
	s.service.On("GetCertificates", mock.Anything, withCaller(), certmgr.SpecificServer("s1"), "staged", "comm").
		Return(&certmgr.InspectionReport{Certificates: []certs.Metadata{}}, nil)
	rec := s.do(http.MethodGet, "/api/certs?server=s1&type=staged&option=comm", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"certificates":[]}`, rec.Body.String())
}

func TestDomainCertificate(t *testing.T) {
	s := newTestServer(t)
	s.service.On("GetDomainCertificate", mock.Anything, withCaller(), "example.com").
		Return(certs.Metadata{Domain: "example.com", Type: "domain", Subject: "CN=example.com"}, nil)
	s.service.On("GetDomainCertificate", mock.Anything, withCaller(), "missing").
		Return(certs.Metadata{}, certderrors.ErrNotFound)

	rec := s.do(http.MethodGet, "/api/domains/example.com/cert", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"domain":"example.com"`)

	rec = s.do(http.MethodGet, "/api/domains/missing/cert", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerify(t *testing.T) {
	s := newTestServer(t)
	s.service.On("VerifyCertKey", mock.Anything, withCaller(), "CERT", "KEY", "").Return(true, nil)
	rec := s.do(http.MethodPost, "/api/certs/verify", map[string]string{"cert": "CERT", "key": "KEY"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"verifyResult":true}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/certs/verify", map[string]string{"cert": strings.Repeat("A", 65537), "key": "KEY"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "cert", decodeError(t, rec).Field)
}

func TestDownloadCSR(t *testing.T) {
	s := newTestServer(t)
	pem := "-----BEGIN CERTIFICATE REQUEST-----\nMIIC\n-----END CERTIFICATE REQUEST-----\n"
	s.service.On("DownloadCSR", mock.Anything, withCaller(), "").Return(certmgr.CSR{Server: "mail1.example.com", PEM: pem}, nil)

	rec := s.do(http.MethodGet, "/api/certs/csr/download", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pem, rec.Body.String())
	assert.Equal(t, "attachment; filename=commercial.csr", rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-cache")
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
}

func TestCertRoutes_RequireSession(t *testing.T) {
	s := newTestServer(t)
	s.token = ""
	for _, path := range []string{"/api/certs?server=all", "/api/certs/csr/download", "/api/domains/d1/cert"} {
		rec := s.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, "unauthenticated", decodeError(t, rec).Code)
	}
	s.token = "forged"
	rec := s.do(http.MethodPost, "/api/certs/verify", map[string]string{"cert": "C", "key": "K"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	s.service.AssertNotCalled(t, "VerifyCertKey", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
