package handlers

import (
	"encoding/json"
	"net/http"

	"certd/config"
	"certd/internal/certs"
	"certd/internal/logger"
	"certd/middleware"
)

// ConfigResponse holds the public configuration exposed to operators.
type ConfigResponse struct {
	LocalServer       string   `json:"localServer"`
	DirectoryBackend  string   `json:"directoryBackend"`
	Slots             []string `json:"slots"`
	UploadMaxBytes    int64    `json:"uploadMaxBytes"`
	UploadTTLSeconds  int      `json:"uploadTtlSeconds"`
	ExpiryWarningDays int      `json:"expiryWarningDays"`
	VaultEnabled      bool     `json:"vaultEnabled"`
}

// GetConfig returns the application configuration without credentials.
func GetConfig(cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetRequestID(r.Context())

		resp := ConfigResponse{
			LocalServer:       cfg.CertMgr.LocalServer,
			DirectoryBackend:  cfg.Directory.Backend,
			Slots:             certs.Slots,
			UploadMaxBytes:    cfg.Uploads.MaxBytes,
			UploadTTLSeconds:  int(cfg.Uploads.TTL.Seconds()),
			ExpiryWarningDays: cfg.ExpiryWarningDays,
			VaultEnabled:      cfg.Vault.Enabled,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.HTTPError(r.Method, r.URL.Path, http.StatusInternalServerError, err).
				Str("request_id", requestID).
				Msg("failed to encode config response")
			return
		}

		logger.HTTPEvent(r.Method, r.URL.Path, http.StatusOK, 0).
			Str("request_id", requestID).
			Msg("config retrieved")
	}
}
