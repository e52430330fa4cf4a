// Package handlers exposes certificate operations over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	certderrors "certd/internal/errors"
	"certd/internal/logger"
	"certd/middleware"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// StatusFor maps an error category to its HTTP status.
func StatusFor(err error) int {
	switch certderrors.Kind(err) {
	case "invalid_input":
		return http.StatusBadRequest
	case "unauthenticated":
		return http.StatusUnauthorized
	case "permission_denied":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "illegal_state":
		return http.StatusConflict
	case "too_large":
		return http.StatusRequestEntityTooLarge
	case "verification_failed":
		return http.StatusUnprocessableEntity
	case "remote_command_failed":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs err and answers with its category. Internal failures are
// not described to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := StatusFor(err)
	logger.HTTPError(r.Method, r.URL.Path, status, err).
		Str("request_id", middleware.GetRequestID(r.Context())).
		Msg(msg)

	resp := ErrorResponse{Code: certderrors.Kind(err), Message: err.Error()}
	if status == http.StatusInternalServerError {
		resp.Code = "internal"
		resp.Message = http.StatusText(status)
	}
	var invalid *certderrors.InvalidInputError
	if errors.As(err, &invalid) {
		resp.Field = invalid.Field
	}
	var failed *certderrors.RemoteCommandError
	if errors.As(err, &failed) {
		exitCode := failed.ExitCode
		resp.ExitCode = &exitCode
		resp.Stderr = failed.Stderr
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into dst and validates its tags.
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return certderrors.ErrUploadTooLarge
		}
		return certderrors.Invalid("body", "", "malformed JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			fe := invalid[0]
			return certderrors.Invalid(fe.Field(), "", "failed "+fe.Tag()+" check")
		}
		return certderrors.Invalid("body", "", err.Error())
	}
	return nil
}
