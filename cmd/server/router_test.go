package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certd/config"
	"certd/internal/certmgr"
	"certd/internal/certs"
	certderrors "certd/internal/errors"
	"certd/internal/handlers"
	"certd/internal/metrics"
	"certd/internal/rights"
	"certd/internal/upload"
)

type fakeService struct{}

func (fakeService) GenerateCSR(context.Context, rights.Caller, certmgr.ServerTarget, certmgr.CertificateRequest) (string, error) {
	return "s1", nil
}

func (fakeService) InstallCertificate(context.Context, rights.Caller, certmgr.ServerTarget, certmgr.CertificateRequest, *certmgr.UploadedCertBundle) (string, error) {
	return "", certderrors.ErrIllegalState
}

func (fakeService) GetCertificates(context.Context, rights.Caller, certmgr.ServerTarget, string, string) (*certmgr.InspectionReport, error) {
	return &certmgr.InspectionReport{Certificates: []certs.Metadata{{Server: "mail1.example.com", Type: "mta"}}}, nil
}

func (fakeService) GetDomainCertificate(context.Context, rights.Caller, string) (certs.Metadata, error) {
	return certs.Metadata{}, certderrors.ErrNotFound
}

func (fakeService) VerifyCertKey(context.Context, rights.Caller, string, string, string) (bool, error) {
	return true, nil
}

func (fakeService) DownloadCSR(context.Context, rights.Caller, string) (certmgr.CSR, error) {
	return certmgr.CSR{PEM: "CSR"}, nil
}

type fakeAccounts struct{}

func (fakeAccounts) Authenticate(name, password string) (rights.Caller, error) {
	if name == "admin@example.com" && password == "secret" {
		return rights.Caller{AccountID: "acc-1", Name: name}, nil
	}
	return rights.Caller{}, certderrors.ErrInvalidCredentials
}

type testRouter struct {
	handler http.Handler
	token   string
}

func newRouter(t *testing.T, probe handlers.ReadinessProbe) *testRouter {
	t.Helper()
	cfg := config.Config{
		Env:               config.EnvDev,
		CertMgr:           config.CertMgrConfig{LocalServer: "mail1.example.com"},
		Directory:         config.DirectoryConfig{Backend: "memory"},
		Uploads:           config.UploadConfig{TTL: time.Minute, MaxBytes: 2 << 20},
		ExpiryWarningDays: 30,
	}
	registry := prometheus.NewRegistry()
	if probe == nil {
		probe = func(context.Context) error { return nil }
	}
	router := buildRouter(cfg, routerDeps{
		Service:  fakeService{},
		Observer: metrics.NewRecorder(registry),
		Auth:     handlers.NewAuth(fakeAccounts{}, rights.NewSessionStore(time.Hour), false),
		Uploads:  upload.NewStore(cfg.Uploads.TTL, cfg.Uploads.MaxBytes),
		Gatherer: registry,
		Probes:   map[string]handlers.ReadinessProbe{"directory": probe},
	})
	return &testRouter{handler: router}
}

func (tr *testRouter) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "192.0.2.10:5555"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tr.token != "" {
		req.Header.Set("Authorization", "Bearer "+tr.token)
	}
	rec := httptest.NewRecorder()
	tr.handler.ServeHTTP(rec, req)
	return rec
}

func (tr *testRouter) login(t *testing.T) {
	t.Helper()
	rec := tr.do(t, http.MethodPost, "/api/auth/login", strings.NewReader(`{"name":"admin@example.com","password":"secret"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	tr.token = resp.Token
}

func TestBuildRouter_PublicEndpoints(t *testing.T) {
	tr := newRouter(t, nil)

	rec := tr.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	assert.Equal(t, http.StatusOK, tr.do(t, http.MethodGet, "/api/ready", nil).Code)

	rec = tr.do(t, http.MethodGet, "/api/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version"`)

	rec = tr.do(t, http.MethodGet, "/api/config", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"localServer":"mail1.example.com"`)

	assert.Equal(t, http.StatusNotFound, tr.do(t, http.MethodGet, "/api/status", nil).Code)
}

func TestBuildRouter_ReadinessFailure(t *testing.T) {
	tr := newRouter(t, func(context.Context) error { return errors.New("ldap down") })
	assert.Equal(t, http.StatusServiceUnavailable, tr.do(t, http.MethodGet, "/api/ready", nil).Code)
}

func TestBuildRouter_ProtectedRoutes(t *testing.T) {
	tr := newRouter(t, nil)

	assert.Equal(t, http.StatusUnauthorized, tr.do(t, http.MethodGet, "/api/certs?server=all", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, tr.do(t, http.MethodPost, "/api/uploads", nil).Code)

	tr.login(t)
	rec := tr.do(t, http.MethodGet, "/api/certs?server=all", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mail1.example.com"`)

	rec = tr.do(t, http.MethodGet, "/api/domains/d1/cert", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = tr.do(t, http.MethodPost, "/api/certs/install", strings.NewReader(`{"server":"s1","type":"self"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBuildRouter_JSONBodyLimit(t *testing.T) {
	tr := newRouter(t, nil)
	tr.login(t)

	big := `{"cert":"` + strings.Repeat("A", jsonBodyLimit) + `"}`
	rec := tr.do(t, http.MethodPost, "/api/certs/verify", strings.NewReader(big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = tr.do(t, http.MethodPost, "/api/certs/verify", bytes.NewReader([]byte(`{"cert":"C","key":"K"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"verifyResult":true}`, rec.Body.String())
}

func TestBuildRouter_MetricsRecordOperations(t *testing.T) {
	tr := newRouter(t, nil)
	tr.login(t)
	require.Equal(t, http.StatusOK, tr.do(t, http.MethodGet, "/api/certs?server=all", nil).Code)
	require.Equal(t, http.StatusNotFound, tr.do(t, http.MethodGet, "/api/domains/d1/cert", nil).Code)

	tr.token = ""
	rec := tr.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `certd_operations_total{operation="get_certificates",result="ok"} 1`)
	assert.Contains(t, body, `certd_operations_total{operation="get_domain_certificate",result="not_found"} 1`)
}

func TestBuildRouter_LoginRateLimited(t *testing.T) {
	tr := newRouter(t, nil)
	limit := 0
	for i := 0; i < 20; i++ {
		rec := tr.do(t, http.MethodPost, "/api/auth/login", strings.NewReader(`{"name":"admin@example.com","password":"wrong"}`))
		if rec.Code == http.StatusTooManyRequests {
			break
		}
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		limit++
	}
	assert.Equal(t, 10, limit)
}
