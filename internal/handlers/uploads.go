package handlers

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	certderrors "certd/internal/errors"
	"certd/internal/upload"
)

// Uploader stores files for a later install.
type Uploader interface {
	Put(accountID, filename string, data []byte) (upload.Upload, error)
}

const uploadField = "file"

// RegisterUploadRoutes mounts POST /api/uploads. Bodies larger than
// maxBytes plus multipart overhead are refused before parsing.
func RegisterUploadRoutes(r chi.Router, uploads Uploader, maxBytes int64) {
	r.Post("/api/uploads", func(w http.ResponseWriter, req *http.Request) {
		caller, _ := CallerFromContext(req.Context())
		req.Body = http.MaxBytesReader(w, req.Body, maxBytes+64*1024)

		file, header, err := req.FormFile(uploadField)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, req, certderrors.ErrUploadTooLarge, "upload too large")
				return
			}
			writeError(w, req, certderrors.Invalid(uploadField, "", "a multipart file is required"), "invalid upload")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
		if err != nil {
			writeError(w, req, certderrors.Invalid(uploadField, "", err.Error()), "failed to read upload")
			return
		}
		stored, err := uploads.Put(caller.AccountID, filepath.Base(header.Filename), data)
		if err != nil {
			writeError(w, req, err, "failed to store upload")
			return
		}
		writeJSON(w, http.StatusCreated, stored)
	})
}
