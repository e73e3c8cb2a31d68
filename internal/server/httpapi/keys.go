package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/dmitrijs2005/qvault/internal/server/services"
	"github.com/go-chi/chi/v5"
)

// multipartOverhead is the slack allowed on top of MaxUploadSize for form
// fields and part headers.
const multipartOverhead = 1 << 20

var encryptSteps = []string{"hashing", "qrng", "encrypting", "finalizing"}

type keyJSON struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	FileName     string    `json:"file_name"`
	FileSize     string    `json:"file_size"`
	Algorithm    string    `json:"algorithm"`
	KeyType      string    `json:"key_type"`
	CreatedAt    time.Time `json:"created_at"`
	Fingerprint  string    `json:"key_fingerprint"`
	DecryptCount int64     `json:"decrypt_count"`
}

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	recs, err := h.vault.List(r.Context(), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	keys := make([]keyJSON, 0, len(recs))
	for _, k := range recs {
		keys = append(keys, keyJSON{
			ID:           k.ID,
			Owner:        k.OwnerName,
			FileName:     k.FileName,
			FileSize:     k.FileSize,
			Algorithm:    k.Algorithm,
			KeyType:      k.KeyType,
			CreatedAt:    k.CreatedAt,
			Fingerprint:  k.Fingerprint,
			DecryptCount: k.DecryptCount,
		})
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool      `json:"success"`
		Keys    []keyJSON `json:"keys"`
	}{true, keys})
}

func (h *Handler) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := h.vault.Delete(r.Context(), principal(r), chi.URLParam(r, "id"), requestMeta(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Success: true, Message: "Key deleted"})
}

type encryptResponse struct {
	Success     bool     `json:"success"`
	KeyID       string   `json:"key_id"`
	Fingerprint string   `json:"fingerprint"`
	FileSize    string   `json:"file_size,omitempty"`
	Steps       []string `json:"steps"`
}

// handleEncrypt takes a multipart upload: "file" plus optional "algorithm",
// "keyMode" and "mode" (real or simulate).
func (h *Handler) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadSize+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			err = fmt.Errorf("%w: maximum is %d MB", common.ErrPayloadTooLarge, h.opts.MaxUploadSize/(1024*1024))
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			err = &apiError{status: http.StatusBadRequest, code: CodeNoFile, msg: "No file provided"}
		default:
			err = fmt.Errorf("%w: malformed upload", common.ErrorValidation)
		}
		h.writeError(w, r, err)
		return
	}
	defer file.Close()

	name := rawFileName(header)
	if name == "" {
		h.writeError(w, r, &apiError{status: http.StatusBadRequest, code: CodeNoFile, msg: "No file selected"})
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.opts.MaxUploadSize+1))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: reading upload: %v", common.ErrorValidation, err))
		return
	}

	res, err := h.vault.Encrypt(r.Context(), principal(r), services.EncryptInput{
		FileName:     name,
		Data:         data,
		Algorithm:    r.FormValue("algorithm"),
		KeyMode:      r.FormValue("keyMode"),
		SimulateOnly: r.FormValue("mode") == "simulate",
	}, requestMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := encryptResponse{Success: true, KeyID: res.RecordID, Fingerprint: res.Fingerprint, Steps: encryptSteps}
	if !res.Simulated {
		resp.FileSize = res.FileSize
	}
	writeJSON(w, http.StatusOK, resp)
}

// rawFileName returns the filename parameter as the client sent it.
// FileHeader.Filename has already been reduced to its base name, which would
// hide traversal attempts from validation.
func rawFileName(header *multipart.FileHeader) string {
	_, params, err := mime.ParseMediaType(header.Header.Get("Content-Disposition"))
	if err != nil || params["filename"] == "" {
		return header.Filename
	}
	return params["filename"]
}

type simulateRequest struct {
	FileName  string `json:"filename"`
	FileSize  string `json:"filesize" validate:"max=32"`
	Algorithm string `json:"algorithm" validate:"max=50"`
	KeyMode   string `json:"keyMode" validate:"max=50"`
}

func (h *Handler) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.vault.Simulate(r.Context(), principal(r), services.SimulateInput{
		FileName:  req.FileName,
		FileSize:  req.FileSize,
		Algorithm: req.Algorithm,
		KeyMode:   req.KeyMode,
	}, requestMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, encryptResponse{Success: true, KeyID: res.RecordID, Fingerprint: res.Fingerprint, Steps: encryptSteps})
}

type decryptRequest struct {
	KeyID string `json:"key_id"`
}

type decryptResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	FileName     string `json:"file_name"`
	DecryptCount int64  `json:"decrypt_count"`
	DownloadURL  string `json:"download_url,omitempty"`
	Simulated    bool   `json:"simulated"`
}

func (h *Handler) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.vault.Decrypt(r.Context(), principal(r), req.KeyID, requestMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := decryptResponse{
		Success:      true,
		FileName:     res.FileName,
		DecryptCount: res.DecryptCount,
		Simulated:    res.Simulated,
	}
	if res.Simulated {
		resp.Message = "Simulated decryption succeeded (no stored file)"
	} else {
		resp.Message = "Decryption succeeded"
		resp.DownloadURL = fmt.Sprintf("/api/download/%s?token=%s", url.PathEscape(res.RecordID), url.QueryEscape(res.DownloadToken))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDownload streams the plaintext once and deletes it whatever the
// outcome of the transfer.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	d, err := h.vault.Download(r.Context(), principal(r), chi.URLParam(r, "id"), r.URL.Query().Get("token"), requestMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer d.Close()

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.FileName}))
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, d.FileName, d.ModTime, d.Content())
}
