package products

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/siraevrus/stockyard/internal/platform/httpx"
	"github.com/siraevrus/stockyard/internal/shared"
	"github.com/siraevrus/stockyard/internal/stock"
	"github.com/siraevrus/stockyard/internal/templates"
)

// Handler exposes lot intake and browsing over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the products handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers product routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleIntake)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}/attributes", h.handleUpdateAttributes)
}

type intakeRequest struct {
	TemplateID   int64             `json:"template_id" validate:"required,gt=0"`
	WarehouseID  int64             `json:"warehouse_id" validate:"required,gt=0"`
	Qty          float64           `json:"qty" validate:"required,gt=0"`
	ArrivalDate  string            `json:"arrival_date"`
	TransportRef string            `json:"transport_ref"`
	Attributes   map[string]string `json:"attributes" validate:"required"`
	Note         string            `json:"note"`
}

type updateAttributesRequest struct {
	Attributes map[string]string `json:"attributes" validate:"required"`
}

func (h *Handler) handleIntake(w http.ResponseWriter, r *http.Request) {
	var req intakeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	op := shared.OperationFromContext(r.Context())
	if !op.CanAccessWarehouse(req.WarehouseID) {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "warehouse not in scope")
		return
	}

	var arrivalDate time.Time
	if req.ArrivalDate != "" {
		var err error
		arrivalDate, err = time.Parse("2006-01-02", req.ArrivalDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "arrival_date must be YYYY-MM-DD")
			return
		}
	}

	rec, err := h.service.CreateIntake(r.Context(), IntakeInput{
		TemplateID:   req.TemplateID,
		WarehouseID:  req.WarehouseID,
		Qty:          req.Qty,
		ArrivalDate:  arrivalDate,
		TransportRef: req.TransportRef,
		Attributes:   req.Attributes,
		Note:         req.Note,
		ActorID:      op.ActorID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"product_id":  rec.ProductID,
		"movement_id": rec.ID,
		"fingerprint": rec.Fingerprint,
		"qty_after":   rec.QtyAfter,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	lot, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lot)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ListFilters{Fingerprint: q.Get("fingerprint")}
	filters.WarehouseID, _ = strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	filters.TemplateID, _ = strconv.ParseInt(q.Get("template_id"), 10, 64)
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	lots, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": lots, "total": total})
}

func (h *Handler) handleUpdateAttributes(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	var req updateAttributesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	op := shared.OperationFromContext(r.Context())
	lot, err := h.service.UpdateAttributes(r.Context(), id, UpdateInput{
		Attributes: req.Attributes,
		ActorID:    op.ActorID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lot)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *shared.ValidationError
	switch {
	case errors.As(err, &vErr):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", vErr.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "product not found")
	case errors.Is(err, templates.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "template not found")
	case errors.Is(err, stock.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, stock.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "concurrent update, retry the request")
	default:
		h.logger.Error("products request failed", "path", r.URL.Path, "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
