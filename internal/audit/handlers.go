package audit

import (
	"net/http"
	"strings"

	"github.com/noah-isme/brennholz-api/internal/common"
)

// Handler lists audit entries for administrators.
type Handler struct {
	Store Store
}

// List handles GET /admin/audit?resource=&page=&limit=.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 50)
	resource := strings.TrimSpace(r.URL.Query().Get("resource"))

	rows, err := h.Store.List(r.Context(), resource, perPage, (page-1)*perPage)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit logs", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}
