package stock

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/siraevrus/stockyard/internal/platform/httpx"
	"github.com/siraevrus/stockyard/internal/shared"
)

// Handler wires HTTP endpoints for the stock module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balance", h.handleGetBalance)
	r.Get("/movements", h.handleListMovements)
	r.Get("/summary", h.handleSummary)
	r.Post("/arrivals", h.handleArrival)
	r.Post("/sales", h.handleSale)
	r.Post("/adjustments", h.handleAdjustment)
	r.Post("/transfers", h.handleTransfer)
	r.Post("/reservations", h.handleReservation)
}

type bucketRequest struct {
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	TemplateID  int64  `json:"template_id" validate:"required,gt=0"`
	Fingerprint string `json:"fingerprint"`
}

func (b bucketRequest) bucket() Bucket {
	return Bucket{WarehouseID: b.WarehouseID, TemplateID: b.TemplateID, Fingerprint: b.Fingerprint}
}

type arrivalRequest struct {
	bucketRequest
	Qty   float64 `json:"qty" validate:"required,gt=0"`
	Note  string  `json:"note"`
	RefID string  `json:"ref_id" validate:"omitempty,uuid"`
}

type saleRequest struct {
	bucketRequest
	Qty            float64 `json:"qty" validate:"required,gt=0"`
	CashAmount     string  `json:"cash_amount"`
	CashlessAmount string  `json:"cashless_amount"`
	Note           string  `json:"note"`
}

type adjustmentRequest struct {
	bucketRequest
	Delta float64 `json:"delta" validate:"required"`
	Note  string  `json:"note" validate:"required"`
}

type transferRequest struct {
	TemplateID   int64   `json:"template_id" validate:"required,gt=0"`
	Fingerprint  string  `json:"fingerprint"`
	SrcWarehouse int64   `json:"src_warehouse_id" validate:"required,gt=0"`
	DstWarehouse int64   `json:"dst_warehouse_id" validate:"required,gt=0"`
	Qty          float64 `json:"qty" validate:"required,gt=0"`
	Note         string  `json:"note"`
}

type reservationRequest struct {
	bucketRequest
	Delta float64 `json:"delta" validate:"required"`
}

type movementResponse struct {
	ID          int64   `json:"id"`
	WarehouseID int64   `json:"warehouse_id"`
	TemplateID  int64   `json:"template_id"`
	Fingerprint string  `json:"fingerprint"`
	Kind        string  `json:"kind"`
	QtyChange   float64 `json:"qty_change"`
	QtyBefore   float64 `json:"qty_before"`
	QtyAfter    float64 `json:"qty_after"`
	Note        string  `json:"note"`
	ProductID   int64   `json:"product_id,omitempty"`
	SaleID      int64   `json:"sale_id,omitempty"`
	ActorID     int64   `json:"actor_id"`
	CreatedAt   string  `json:"created_at"`
}

func toMovementResponse(rec MovementRecord) movementResponse {
	return movementResponse{
		ID:          rec.ID,
		WarehouseID: rec.WarehouseID,
		TemplateID:  rec.TemplateID,
		Fingerprint: rec.Fingerprint,
		Kind:        string(rec.Kind),
		QtyChange:   rec.QtyChange,
		QtyBefore:   rec.QtyBefore,
		QtyAfter:    rec.QtyAfter,
		Note:        rec.Note,
		ProductID:   rec.ProductID,
		SaleID:      rec.SaleID,
		ActorID:     rec.ActorID,
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
	}
}

type balanceResponse struct {
	WarehouseID int64   `json:"warehouse_id"`
	TemplateID  int64   `json:"template_id"`
	Fingerprint string  `json:"fingerprint"`
	Qty         float64 `json:"qty"`
	Reserved    float64 `json:"reserved"`
	Available   float64 `json:"available"`
}

func toBalanceResponse(bal Balance) balanceResponse {
	return balanceResponse{
		WarehouseID: bal.WarehouseID,
		TemplateID:  bal.TemplateID,
		Fingerprint: bal.Fingerprint,
		Qty:         bal.Qty,
		Reserved:    bal.Reserved,
		Available:   bal.Available(),
	}
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	bucket, ok := h.bucketFromQuery(w, r)
	if !ok {
		return
	}
	bal, err := h.service.GetBalance(r.Context(), bucket)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBalanceResponse(bal))
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{
		WarehouseID: parseInt(q.Get("warehouse_id")),
		TemplateID:  parseInt(q.Get("template_id")),
		Fingerprint: q.Get("fingerprint"),
		Kind:        MovementKind(q.Get("kind")),
		Page:        int(parseInt(q.Get("page"))),
		PerPage:     int(parseInt(q.Get("per_page"))),
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fmt.Sprintf("unknown movement kind %q", filter.Kind))
		return
	}
	var ok bool
	if filter.From, filter.To, ok = h.dateRange(w, q.Get("from"), q.Get("to")); !ok {
		return
	}
	records, page, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	items := make([]movementResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toMovementResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items": items,
		"page":  page.Page, "per_page": page.PerPage, "total": page.Total, "total_pages": page.TotalPages,
	})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := SummaryFilter{
		WarehouseID: parseInt(q.Get("warehouse_id")),
		TemplateID:  parseInt(q.Get("template_id")),
	}
	var ok bool
	if filter.From, filter.To, ok = h.dateRange(w, q.Get("from"), q.Get("to")); !ok {
		return
	}
	rows, err := h.service.PeriodSummary(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": rows})
}

func (h *Handler) handleArrival(w http.ResponseWriter, r *http.Request) {
	var req arrivalRequest
	op, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	if !op.CanAccessWarehouse(req.WarehouseID) {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	rec, err := h.service.PostArrival(r.Context(), ArrivalInput{
		Bucket:  req.bucket(),
		Qty:     req.Qty,
		Note:    req.Note,
		ActorID: op.ActorID,
		RefID:   req.RefID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMovementResponse(rec))
}

func (h *Handler) handleSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	op, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	if !op.CanAccessWarehouse(req.WarehouseID) {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	cash, err := parseAmount(req.CashAmount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "cash_amount: malformed amount")
		return
	}
	cashless, err := parseAmount(req.CashlessAmount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "cashless_amount: malformed amount")
		return
	}
	rec, err := h.service.PostSale(r.Context(), SaleInput{
		Bucket:         req.bucket(),
		Qty:            req.Qty,
		CashAmount:     cash,
		CashlessAmount: cashless,
		Note:           req.Note,
		ActorID:        op.ActorID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMovementResponse(rec))
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	op, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	if !op.CanAccessWarehouse(req.WarehouseID) {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	rec, err := h.service.PostAdjustment(r.Context(), AdjustmentInput{
		Bucket:  req.bucket(),
		Delta:   req.Delta,
		Note:    req.Note,
		ActorID: op.ActorID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMovementResponse(rec))
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	op, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	if !op.CanAccessWarehouse(req.SrcWarehouse) || !op.CanAccessWarehouse(req.DstWarehouse) {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	out, in, err := h.service.PostTransfer(r.Context(), TransferInput{
		TemplateID:   req.TemplateID,
		Fingerprint:  req.Fingerprint,
		SrcWarehouse: req.SrcWarehouse,
		DstWarehouse: req.DstWarehouse,
		Qty:          req.Qty,
		Note:         req.Note,
		ActorID:      op.ActorID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"out": toMovementResponse(out),
		"in":  toMovementResponse(in),
	})
}

func (h *Handler) handleReservation(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	op, ok := h.decode(w, r, &req)
	if !ok {
		return
	}
	if !op.CanAccessWarehouse(req.WarehouseID) {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	bal, err := h.service.Reserve(r.Context(), ReserveInput{
		Bucket:  req.bucket(),
		Delta:   req.Delta,
		ActorID: op.ActorID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBalanceResponse(bal))
}

// decode parses and validates the request body and returns the caller's
// operation context.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) (shared.Operation, bool) {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return shared.Operation{}, false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return shared.Operation{}, false
	}
	return shared.OperationFromContext(r.Context()), true
}

func (h *Handler) bucketFromQuery(w http.ResponseWriter, r *http.Request) (Bucket, bool) {
	q := r.URL.Query()
	bucket := Bucket{
		WarehouseID: parseInt(q.Get("warehouse_id")),
		TemplateID:  parseInt(q.Get("template_id")),
		Fingerprint: q.Get("fingerprint"),
	}
	if bucket.WarehouseID == 0 || bucket.TemplateID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id and template_id are required")
		return Bucket{}, false
	}
	return bucket, true
}

func (h *Handler) dateRange(w http.ResponseWriter, from, to string) (time.Time, time.Time, bool) {
	var fromTime, toTime time.Time
	var err error
	if from != "" {
		if fromTime, err = time.Parse("2006-01-02", from); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from: malformed date")
			return time.Time{}, time.Time{}, false
		}
	}
	if to != "" {
		if toTime, err = time.Parse("2006-01-02", to); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to: malformed date")
			return time.Time{}, time.Time{}, false
		}
		toTime = toTime.Add(24*time.Hour - time.Nanosecond)
	}
	return fromTime, toTime, true
}

// respondError maps stock errors onto problem responses. Persistence errors
// surface a generic message; the detail stays in server logs.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *InsufficientStockError
	var validation *shared.ValidationError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock",
			fmt.Sprintf("requested %g, available %g", insufficient.Requested, insufficient.Available))
	case errors.As(err, &validation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validation.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrNoteRequired), errors.Is(err, ErrSameWarehouse), errors.Is(err, ErrReservedExceedsStock):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	default:
		h.logger.Error("stock request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
