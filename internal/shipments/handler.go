package shipments

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
)

// Handler exposes the shipment lifecycle over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the shipments handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers shipment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Post("/{id}/arrive", h.handleArrive)
	r.Post("/{id}/confirm", h.handleConfirm)
}

type lineRequest struct {
	TemplateID int64             `json:"template_id" validate:"required,gt=0"`
	Qty        float64           `json:"qty" validate:"required,gt=0"`
	Attributes map[string]string `json:"attributes" validate:"required"`
}

type documentRequest struct {
	Name string `json:"name" validate:"required"`
	Size int64  `json:"size" validate:"gte=0"`
	Path string `json:"path" validate:"required"`
}

type createRequest struct {
	DepartureName  string            `json:"departure_name" validate:"required"`
	DepartureDate  string            `json:"departure_date" validate:"required"`
	WarehouseID    int64             `json:"warehouse_id" validate:"required,gt=0"`
	PlannedArrival string            `json:"planned_arrival" validate:"required"`
	Lines          []lineRequest     `json:"lines" validate:"required,min=1,dive"`
	Documents      []documentRequest `json:"documents" validate:"dive"`
}

type updateRequest struct {
	DepartureName  string            `json:"departure_name" validate:"required"`
	PlannedArrival string            `json:"planned_arrival" validate:"required"`
	Documents      []documentRequest `json:"documents" validate:"dive"`
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
	op := shared.OperationFromContext(r.Context())
	if !op.CanAccessWarehouse(req.WarehouseID) {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "warehouse not in scope")
		return
	}
	departure, err := time.Parse("2006-01-02", req.DepartureDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "departure_date must be YYYY-MM-DD")
		return
	}
	planned, err := time.Parse("2006-01-02", req.PlannedArrival)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "planned_arrival must be YYYY-MM-DD")
		return
	}

	in := CreateInput{
		DepartureName:  req.DepartureName,
		DepartureDate:  departure,
		WarehouseID:    req.WarehouseID,
		PlannedArrival: planned,
		ActorID:        op.ActorID,
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, LineInput{TemplateID: l.TemplateID, Qty: l.Qty, Attributes: l.Attributes})
	}
	for _, d := range req.Documents {
		in.Documents = append(in.Documents, Document{Name: d.Name, Size: d.Size, Path: d.Path})
	}

	lot, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lot)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.shipmentID(w, r)
	if !ok {
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
	filters := ListFilters{Status: Status(q.Get("status"))}
	if filters.Status != "" && !filters.Status.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status")
		return
	}
	filters.WarehouseID, _ = strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	lots, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": lots, "total": total})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.shipmentID(w, r)
	if !ok {
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
	planned, err := time.Parse("2006-01-02", req.PlannedArrival)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "planned_arrival must be YYYY-MM-DD")
		return
	}
	upd := UpdateInput{DepartureName: req.DepartureName, PlannedArrival: planned}
	for _, d := range req.Documents {
		upd.Documents = append(upd.Documents, Document{Name: d.Name, Size: d.Size, Path: d.Path})
	}
	if err := h.service.Update(r.Context(), id, upd); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "updated"})
}

func (h *Handler) handleArrive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.shipmentID(w, r)
	if !ok {
		return
	}
	if err := h.service.MarkArrived(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(StatusArrived)})
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := h.shipmentID(w, r)
	if !ok {
		return
	}
	op := shared.OperationFromContext(r.Context())
	if err := h.service.Confirm(r.Context(), id, op.ActorID); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(StatusConfirmed)})
}

func (h *Handler) shipmentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid shipment id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *shared.ValidationError
	switch {
	case errors.As(err, &vErr):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", vErr.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "shipment not found")
	case errors.Is(err, ErrTerminalState):
		httpx.Problem(w, http.StatusConflict, "Conflict", "shipment is confirmed and immutable")
	case errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Conflict", "invalid status transition")
	case errors.Is(err, ErrNoLines):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "shipment has no line items")
	case errors.Is(err, stock.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "concurrent update, retry the request")
	default:
		h.logger.Error("shipments request failed", "path", r.URL.Path, "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
