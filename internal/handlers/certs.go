package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"certd/internal/certmgr"
	"certd/internal/certs"
	certderrors "certd/internal/errors"
	"certd/internal/httputil"
	"certd/internal/rights"
)

// CertService is the certificate orchestration the routes drive.
type CertService interface {
	GenerateCSR(ctx context.Context, caller rights.Caller, target certmgr.ServerTarget, req certmgr.CertificateRequest) (string, error)
	InstallCertificate(ctx context.Context, caller rights.Caller, target certmgr.ServerTarget, req certmgr.CertificateRequest, bundle *certmgr.UploadedCertBundle) (string, error)
	GetCertificates(ctx context.Context, caller rights.Caller, target certmgr.ServerTarget, certType, option string) (*certmgr.InspectionReport, error)
	GetDomainCertificate(ctx context.Context, caller rights.Caller, domainID string) (certs.Metadata, error)
	VerifyCertKey(ctx context.Context, caller rights.Caller, certPEM, keyPEM, chainPEM string) (bool, error)
	DownloadCSR(ctx context.Context, caller rights.Caller, serverID string) (certmgr.CSR, error)
}

// OperationObserver is told the outcome of every operation.
type OperationObserver interface {
	ObserveOperation(operation string, err error)
}

type csrRequest struct {
	Server string `json:"server" validate:"required,max=256"`
	certmgr.CertificateRequest
}

type installRequest struct {
	Server string `json:"server" validate:"required,max=256"`
	certmgr.CertificateRequest
	CommCert *certmgr.UploadedCertBundle `json:"commCert,omitempty"`
}

type verifyRequest struct {
	Cert  string `json:"cert" validate:"max=65536"`
	Key   string `json:"key" validate:"max=65536"`
	Chain string `json:"chain,omitempty" validate:"max=262144"`
}

type serverResponse struct {
	Server string `json:"server"`
}

type verifyResponse struct {
	VerifyResult bool `json:"verifyResult"`
}

type certHandlers struct {
	service  CertService
	observer OperationObserver
}

func (h *certHandlers) caller(r *http.Request) rights.Caller {
	caller, _ := CallerFromContext(r.Context())
	return caller
}

func (h *certHandlers) generateCSR(w http.ResponseWriter, r *http.Request) {
	var payload csrRequest
	if err := decode(r, &payload); err != nil {
		writeError(w, r, err, "invalid CSR request")
		return
	}
	server, err := h.service.GenerateCSR(r.Context(), h.caller(r), certmgr.ParseServerTarget(payload.Server), payload.CertificateRequest)
	h.observer.ObserveOperation("generate_csr", err)
	if err != nil {
		writeError(w, r, err, "failed to generate CSR")
		return
	}
	writeJSON(w, http.StatusOK, serverResponse{Server: server})
}

func (h *certHandlers) downloadCSR(w http.ResponseWriter, r *http.Request) {
	csr, err := h.service.DownloadCSR(r.Context(), h.caller(r), strings.TrimSpace(r.URL.Query().Get("server")))
	h.observer.ObserveOperation("download_csr", err)
	if err != nil {
		writeError(w, r, err, "failed to download CSR")
		return
	}
	w.Header().Set("Content-Type", "application/x-x509-user-cert")
	httputil.Attachment(w, "commercial.csr")
	httputil.NoCache(w)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(csr.PEM))
}

func (h *certHandlers) install(w http.ResponseWriter, r *http.Request) {
	var payload installRequest
	if err := decode(r, &payload); err != nil {
		writeError(w, r, err, "invalid install request")
		return
	}
	server, err := h.service.InstallCertificate(r.Context(), h.caller(r), certmgr.ParseServerTarget(payload.Server), payload.CertificateRequest, payload.CommCert)
	h.observer.ObserveOperation("install_certificate", err)
	if err != nil {
		writeError(w, r, err, "failed to install certificate")
		return
	}
	writeJSON(w, http.StatusOK, serverResponse{Server: server})
}

func (h *certHandlers) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	server := strings.TrimSpace(query.Get("server"))
	if server == "" {
		writeError(w, r, certderrors.Invalid("server", "", "a server id, name or 'all' is required"), "invalid certificate query")
		return
	}
	certType := query.Get("type")
	if certType == "" {
		certType = "all"
	}
	report, err := h.service.GetCertificates(r.Context(), h.caller(r), certmgr.ParseServerTarget(server), certType, query.Get("option"))
	h.observer.ObserveOperation("get_certificates", err)
	if err != nil {
		writeError(w, r, err, "failed to read certificates")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *certHandlers) domainCertificate(w http.ResponseWriter, r *http.Request) {
	md, err := h.service.GetDomainCertificate(r.Context(), h.caller(r), chi.URLParam(r, "id"))
	h.observer.ObserveOperation("get_domain_certificate", err)
	if err != nil {
		writeError(w, r, err, "failed to read domain certificate")
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (h *certHandlers) verify(w http.ResponseWriter, r *http.Request) {
	var payload verifyRequest
	if err := decode(r, &payload); err != nil {
		writeError(w, r, err, "invalid verify request")
		return
	}
	ok, err := h.service.VerifyCertKey(r.Context(), h.caller(r), payload.Cert, payload.Key, payload.Chain)
	h.observer.ObserveOperation("verify_cert_key", err)
	if err != nil {
		writeError(w, r, err, "failed to verify certificate and key")
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{VerifyResult: ok})
}

type noopObserver struct{}

func (noopObserver) ObserveOperation(string, error) {}

// RegisterCertRoutes mounts the certificate routes. The router must already
// authenticate callers. observer may be nil.
func RegisterCertRoutes(r chi.Router, service CertService, observer OperationObserver) {
	if observer == nil {
		observer = noopObserver{}
	}
	h := &certHandlers{service: service, observer: observer}
	r.Post("/api/certs/csr", h.generateCSR)
	r.Get("/api/certs/csr/download", h.downloadCSR)
	r.Post("/api/certs/install", h.install)
	r.Get("/api/certs", h.list)
	r.Get("/api/domains/{id}/cert", h.domainCertificate)
	r.Post("/api/certs/verify", h.verify)
}
