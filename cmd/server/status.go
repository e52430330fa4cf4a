package main

import (
	"encoding/json"
	"net/http"

	"certd/config"
	"certd/internal/directory"
	"certd/internal/vault"
	"certd/internal/version"
)

type statusResponse struct {
	Version            string `json:"version"`
	LocalServer        string `json:"local_server"`
	DirectoryConnected bool   `json:"directory_connected"`
	DirectoryError     string `json:"directory_error,omitempty"`
	VaultEnabled       bool   `json:"vault_enabled"`
	VaultConnected     bool   `json:"vault_connected"`
	VaultError         string `json:"vault_error,omitempty"`
}

// newStatusHandler reports the reachability of the directory and of Vault.
// It always answers 200; /api/ready is the probe that fails.
func newStatusHandler(cfg config.Config, store directory.Store, vaultClient vault.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resp := statusResponse{Version: version.Version, LocalServer: cfg.CertMgr.LocalServer, VaultEnabled: cfg.Vault.Enabled}
		if _, err := store.GetLocalServer(ctx); err != nil {
			resp.DirectoryError = err.Error()
		} else {
			resp.DirectoryConnected = true
		}
		if cfg.Vault.Enabled {
			if err := vaultClient.CheckConnection(ctx); err != nil {
				resp.VaultError = err.Error()
			} else {
				resp.VaultConnected = true
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
