package httpapi

import (
	"net/http"
	"time"
)

type dashboardJSON struct {
	Success        bool             `json:"success"`
	Stats          statsJSON        `json:"stats"`
	Devices        deviceCountsJSON `json:"devices"`
	QRNG           qrngJSON         `json:"qrng"`
	SecurityStatus []statusItemJSON `json:"security_status"`
}

type statsJSON struct {
	EncryptedFiles       int64  `json:"encrypted_files"`
	EncryptedFilesChange int    `json:"encrypted_files_change"`
	StorageUsed          string `json:"storage_used"`
	StorageBytes         int64  `json:"storage_bytes"`
	SecurityScore        string `json:"security_score"`
	Alerts               int64  `json:"alerts"`
}

type deviceCountsJSON struct {
	Total   int64 `json:"total"`
	Trusted int64 `json:"trusted"`
	Pending int64 `json:"pending"`
	Revoked int64 `json:"revoked"`
}

type qrngJSON struct {
	Online         bool      `json:"online"`
	EntropyQuality string    `json:"entropy_quality"`
	LastSync       time.Time `json:"last_sync"`
}

type statusItemJSON struct {
	Label  string `json:"label"`
	Value  string `json:"value"`
	Status string `json:"status"`
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	st, err := h.dashboard.Stats(r.Context(), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]statusItemJSON, 0, len(st.SecurityStatus))
	for _, it := range st.SecurityStatus {
		items = append(items, statusItemJSON(it))
	}

	writeJSON(w, http.StatusOK, dashboardJSON{
		Success: true,
		Stats: statsJSON{
			EncryptedFiles:       st.EncryptedFiles,
			EncryptedFilesChange: st.EncryptedFilesChange,
			StorageUsed:          st.StorageUsed,
			StorageBytes:         st.StorageBytes,
			SecurityScore:        st.SecurityScore,
			Alerts:               st.Alerts,
		},
		Devices:        deviceCountsJSON(st.Devices),
		QRNG:           qrngJSON(st.QRNG),
		SecurityStatus: items,
	})
}
