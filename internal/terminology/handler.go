package terminology

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
)

const maxLimit = 50

// Handler serves /api/terminology.
type Handler struct {
	table *Table
}

func NewHandler(table *Table) *Handler {
	return &Handler{table: table}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/snomed", h.Search)
	r.Get("/snomed/{code}", h.Lookup)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respond.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLimit)
	}
	respond.JSON(w, http.StatusOK, h.table.Search(r.URL.Query().Get("q"), limit))
}

func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	c, ok := h.table.Lookup(chi.URLParam(r, "code"))
	if !ok {
		respond.Error(w, http.StatusNotFound, "Unknown SNOMED CT code")
		return
	}
	respond.JSON(w, http.StatusOK, c)
}
