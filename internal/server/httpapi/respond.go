package httpapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/dmitrijs2005/qvault/internal/server/services"
)

// Error codes sent in the "code" field of failed responses.
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeInvalidType   = "INVALID_TYPE"
	CodeNoFile        = "NO_FILE"
	CodeTooLarge      = "FILE_TOO_LARGE"
	CodeAuthRequired  = "AUTH_REQUIRED"
	CodeAuthFail      = "AUTH_FAIL"
	CodeForbidden     = "FORBIDDEN"
	CodeAccountLocked = "ACCOUNT_LOCKED"
	CodeNotFound      = "NOT_FOUND"
	CodeFileMissing   = "FILE_MISSING"
	CodeDuplicate     = "DUPLICATE"
	CodeConfiguration = "CONFIGURATION_ERROR"
	CodeDecrypt       = "DECRYPT_ERROR"
	CodeStorage       = "STORAGE_ERROR"
	CodeServer        = "SERVER_ERROR"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// apiError is a failure the handler already classified.
type apiError struct {
	status int
	code   string
	msg    string
}

func (e *apiError) Error() string { return e.msg }

// errorMapping is checked in order; the first sentinel err matches wins.
// public replaces the error text when it may carry internals.
var errorMapping = []struct {
	target error
	status int
	code   string
	public string
}{
	{common.ErrorValidation, http.StatusBadRequest, CodeValidation, ""},
	{common.ErrUnsupportedType, http.StatusBadRequest, CodeInvalidType, ""},
	{common.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, CodeTooLarge, ""},
	{common.ErrorUnauthorized, http.StatusUnauthorized, CodeAuthFail, ""},
	{common.ErrInvalidToken, http.StatusUnauthorized, CodeAuthFail, ""},
	{common.ErrTokenExpired, http.StatusUnauthorized, CodeAuthFail, ""},
	{common.ErrRefreshTokenExpired, http.StatusUnauthorized, CodeAuthFail, ""},
	{common.ErrAccountLocked, http.StatusForbidden, CodeAccountLocked, "Account is locked."},
	{common.ErrorForbidden, http.StatusForbidden, CodeForbidden, ""},
	{common.ErrMissingArtifact, http.StatusNotFound, CodeFileMissing, "Encrypted file does not exist"},
	{common.ErrorNotFound, http.StatusNotFound, CodeNotFound, ""},
	{common.ErrorAlreadyExists, http.StatusConflict, CodeDuplicate, ""},
	{common.ErrMasterKeyMissing, http.StatusInternalServerError, CodeConfiguration, "Master key is not configured"},
	{common.ErrDecryptionFailed, http.StatusInternalServerError, CodeDecrypt, "Decryption failed"},
	{common.ErrAuthenticationFailed, http.StatusInternalServerError, CodeDecrypt, "Decryption failed"},
	{common.ErrStorage, http.StatusInternalServerError, CodeStorage, "Storage error"},
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeFailure(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Code: code, Message: msg})
}

// writeError maps err onto a status and code. Unclassified errors are
// logged, audited as a system ERROR entry and answered with a generic
// message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		writeFailure(w, ae.status, ae.code, ae.msg)
		return
	}

	for _, m := range errorMapping {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := err.Error()
		if m.public != "" {
			msg = m.public
		}
		if m.status >= http.StatusInternalServerError {
			h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "code", m.code, "error", err)
		}
		writeFailure(w, m.status, m.code, msg)
		return
	}

	h.logger.Error(r.Context(), "unhandled error", "path", r.URL.Path, "error", err)
	h.audit.RecordServerError(r.Context(), err, requestMeta(r))
	writeFailure(w, http.StatusInternalServerError, CodeServer, "Internal server error")
}

// requestMeta describes where r came from for the audit trail.
func requestMeta(r *http.Request) services.RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return services.RequestMeta{IP: ip, UserAgent: r.UserAgent()}
}
