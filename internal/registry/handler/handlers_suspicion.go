package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	id "civreg/pkg/domain"
	"civreg/pkg/platform/httputil"
)

func (h *Handler) registerSuspicions(r chi.Router) {
	r.Route("/suspicions", func(r chi.Router) {
		r.Get("/", h.handleListSuspicions)
		r.Post("/exclusions", h.handleExclude)
		r.Route("/{customerID}", func(r chi.Router) {
			r.Get("/", h.handleGetSuspicion)
			r.Delete("/", h.handleClearSuspicion)
			r.Post("/lock", h.handleLock)
			r.Delete("/lock", h.handleUnlock)
		})
	})
}

func (h *Handler) handleListSuspicions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.suspicions.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]suspicionOutput, 0, len(rows))
	for _, row := range rows {
		out = append(out, toSuspicionOutput(row))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetSuspicion(w http.ResponseWriter, r *http.Request) {
	cuid := id.CustomerID(chi.URLParam(r, "customerID"))
	row, err := h.suspicions.Get(r.Context(), cuid)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSuspicionOutput(row))
}

func (h *Handler) handleClearSuspicion(w http.ResponseWriter, r *http.Request) {
	cuid := id.CustomerID(chi.URLParam(r, "customerID"))
	if err := h.suspicions.Clear(r.Context(), cuid); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLock takes the advisory lock on a suspicion. A live lock held by
// another author comes back as a conflict naming the holder.
func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.DecodeJSON[struct {
		Author authorInput `json:"author"`
	}](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cuid := id.CustomerID(chi.URLParam(r, "customerID"))
	lock, err := h.suspicions.Lock(r.Context(), cuid, body.Author.toModel())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLockOutput(lock))
}

func (h *Handler) handleUnlock(w http.ResponseWriter, r *http.Request) {
	cuid := id.CustomerID(chi.URLParam(r, "customerID"))
	if err := h.suspicions.Unlock(r.Context(), cuid); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExclude marks a pair as not-duplicates. The pair stops firing
// suspicion rules in either order until the exclusion is removed.
func (h *Handler) handleExclude(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.DecodeJSON[ExclusionRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	err = h.suspicions.Exclude(r.Context(),
		id.CustomerID(body.FirstCustomerID), id.CustomerID(body.SecondCustomerID), body.Author.toModel())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
