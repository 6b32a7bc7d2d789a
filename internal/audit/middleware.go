package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/brennholz-api/internal/obs"
)

// HTTPRecorder records mutating requests after they were handled. Reads are
// passed through untouched.
type HTTPRecorder struct {
	Service *Service
	Actor   string
	// ResourceIDParam names the chi URL parameter holding the resource id.
	ResourceIDParam string
	OnError         func(error)
}

// Middleware implements the chi middleware signature.
func (r HTTPRecorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.Service == nil || !r.Service.Enabled || !mutating(req.Method) {
			next.ServeHTTP(w, req)
			return
		}

		rec := obs.NewStatusRecorder(w)
		next.ServeHTTP(rec, req)

		id := ""
		if r.ResourceIDParam != "" {
			id = chi.URLParam(req, r.ResourceIDParam)
		}
		err := r.Service.Record(req.Context(), req, Record{
			Actor:      r.Actor,
			ResourceID: id,
			Status:     rec.Status(),
		})
		if err != nil && r.OnError != nil {
			r.OnError(err)
		}
	})
}

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}
