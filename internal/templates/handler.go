package templates

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/siraevrus/stockyard/internal/attribute"
	"github.com/siraevrus/stockyard/internal/platform/httpx"
	"github.com/siraevrus/stockyard/internal/shared"
)

// Handler exposes template CRUD over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the templates handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers template routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDeactivate)
}

type attributeRequest struct {
	Name      string   `json:"name" validate:"required"`
	Variable  string   `json:"variable" validate:"required"`
	Kind      string   `json:"kind" validate:"required,oneof=text number select"`
	Options   []string `json:"options"`
	Required  bool     `json:"required"`
	InFormula bool     `json:"in_formula"`
	SortOrder int      `json:"sort_order"`
}

type createRequest struct {
	Name       string             `json:"name" validate:"required"`
	Unit       string             `json:"unit" validate:"required"`
	Formula    string             `json:"formula"`
	Attributes []attributeRequest `json:"attributes" validate:"dive"`
}

type updateRequest struct {
	Name     string `json:"name" validate:"required"`
	Unit     string `json:"unit" validate:"required"`
	Formula  string `json:"formula"`
	IsActive bool   `json:"is_active"`
}

type schemaResponse struct {
	Template
	Attributes []Attribute `json:"attributes"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ListFilters{Search: q.Get("search")}
	if v := q.Get("is_active"); v != "" {
		active := v == "true" || v == "1"
		filters.IsActive = &active
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	items, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid template id")
		return
	}
	schema, err := h.service.GetSchema(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, schemaResponse{Template: schema.Template, Attributes: schema.Attributes})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	attrs := make([]Attribute, 0, len(req.Attributes))
	for _, a := range req.Attributes {
		attrs = append(attrs, Attribute{
			Name:      a.Name,
			Variable:  a.Variable,
			Kind:      attribute.Kind(a.Kind),
			Options:   a.Options,
			Required:  a.Required,
			InFormula: a.InFormula,
			SortOrder: a.SortOrder,
		})
	}
	schema, err := h.service.Create(r.Context(), CreateInput{
		Name: req.Name, Unit: req.Unit, Formula: req.Formula, Attributes: attrs,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, schemaResponse{Template: schema.Template, Attributes: schema.Attributes})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid template id")
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	err = h.service.Update(r.Context(), id, Template{
		Name: req.Name, Unit: req.Unit, Formula: req.Formula, IsActive: req.IsActive,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "updated"})
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid template id")
		return
	}
	if err := h.service.Deactivate(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "deactivated"})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *shared.ValidationError
	switch {
	case errors.As(err, &vErr):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", vErr.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "template not found")
	default:
		h.logger.Error("templates request failed", "path", r.URL.Path, "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
