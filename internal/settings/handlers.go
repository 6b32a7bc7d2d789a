package settings

import (
	"net/http"

	"github.com/noah-isme/brennholz-api/internal/common"
)

// AdminHandler exposes the cached snapshot to operators.
type AdminHandler struct {
	Svc *Service
}

// Get handles GET /admin/settings.
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Svc.Snapshot(r.Context())
	if err != nil {
		common.WriteError(w, common.InternalError("SETTINGS_UNAVAILABLE", "settings could not be loaded", err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": snap})
}

// Invalidate handles POST /admin/settings/invalidate after settings were
// edited in the database.
func (h *AdminHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Invalidate(r.Context()); err != nil {
		common.WriteError(w, common.InternalError("SETTINGS_INVALIDATE_FAILED", "cache could not be cleared", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
