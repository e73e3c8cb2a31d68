package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/qvault/internal/server/services"
	"github.com/go-chi/chi/v5"
)

type deviceJSON struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	IP         string    `json:"ip"`
	Status     string    `json:"status"`
	LastActive time.Time `json:"last_active"`
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]deviceJSON, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceJSON{ID: d.ID, Name: d.Name, IP: d.IP, Status: d.Status, LastActive: d.LastActive})
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool         `json:"success"`
		Devices []deviceJSON `json:"devices"`
	}{true, out})
}

type addDeviceRequest struct {
	Name   string `json:"name"`
	IP     string `json:"ip" validate:"omitempty,max=64"`
	Status string `json:"status"`
}

func (h *Handler) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	var req addDeviceRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	d, err := h.devices.Add(r.Context(), principal(r), services.AddDeviceInput{Name: req.Name, IP: req.IP, Status: req.Status}, requestMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Success bool          `json:"success"`
		Device  deviceRefJSON `json:"device"`
	}{true, deviceRefJSON{ID: d.ID, Name: d.Name}})
}

type deviceRefJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type deviceStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	var req deviceStatusRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	d, err := h.devices.SetStatus(r.Context(), principal(r), chi.URLParam(r, "id"), req.Status, requestMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Success: true, Message: fmt.Sprintf("Device status updated to %s", d.Status)})
}

func (h *Handler) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.devices.Delete(r.Context(), principal(r), chi.URLParam(r, "id"), requestMeta(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Success: true, Message: "Device deleted"})
}
