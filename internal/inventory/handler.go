package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rentiva/rentiva-crm/internal/platform/httpx"
	"github.com/rentiva/rentiva-crm/internal/shared"
)

// idempotencyHeader carries the client-supplied key deduplicating retried writes.
const idempotencyHeader = "X-Idempotency-Key"

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	outletID, _ := uuid.Parse(req.OutletID)
	item, err := h.service.CreateItem(r.Context(), CreateItemInput{
		OutletID:   outletID,
		Name:       req.Name,
		Category:   req.Category,
		Unit:       req.Unit,
		InitialQty: req.InitialQty,
		Notes:      req.Notes,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePage(r, 100, 500)
	filter := ListItemsFilter{Limit: page.Limit, Offset: page.Offset}
	if v := r.URL.Query().Get("outlet_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid outlet_id")
			return
		}
		filter.OutletID = id
	}
	filter.ActiveOnly = r.URL.Query().Get("active") == "true"
	items, err := h.service.ListItems(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, itemListResponse{Items: items})
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	item, err := h.service.GetItem(r.Context(), itemID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleDeactivateItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeactivateItem(r.Context(), itemID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReactivateItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	if err := h.service.ReactivateItem(r.Context(), itemID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleQuantities(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	q, err := h.service.ProjectQuantities(r.Context(), itemID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	page := shared.ParsePage(r, 200, 1000)
	filter := MovementFilter{ItemID: itemID, Limit: page.Limit, Offset: page.Offset}
	q := r.URL.Query()
	if v := q.Get("type"); v != "" {
		t := MovementType(v)
		if !t.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown movement type")
			return
		}
		filter.Types = []MovementType{t}
	}
	if v := q.Get("from"); v != "" {
		from, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from date")
			return
		}
		filter.From = from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to date")
			return
		}
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movementListResponse{Movements: movements})
}

func (h *Handler) handleStockIn(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	var req stockInRequest
	if !h.decode(w, r, &req) {
		return
	}
	movement, err := h.service.StockIn(r.Context(), StockInInput{
		ItemID:         itemID,
		Qty:            req.Qty,
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	var req allocateRequest
	if !h.decode(w, r, &req) {
		return
	}
	refID, _ := uuid.Parse(req.ReferenceID)
	alloc, err := h.service.Allocate(r.Context(), AllocateInput{
		ItemID:         itemID,
		Qty:            req.Qty,
		ReferenceType:  ReferenceType(req.ReferenceType),
		ReferenceID:    refID,
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newAllocationResponse(alloc))
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	h.handleResolve(w, r, h.service.Return)
}

func (h *Handler) handleDamage(w http.ResponseWriter, r *http.Request) {
	h.handleResolve(w, r, h.service.MarkDamage)
}

func (h *Handler) handleLoss(w http.ResponseWriter, r *http.Request) {
	h.handleResolve(w, r, h.service.MarkLoss)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request, op func(context.Context, ResolveInput) (Allocation, error)) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	refID, _ := uuid.Parse(req.ReferenceID)
	alloc, err := op(r.Context(), ResolveInput{
		ItemID:         itemID,
		Qty:            req.Qty,
		ReferenceType:  ReferenceType(req.ReferenceType),
		ReferenceID:    refID,
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newAllocationResponse(alloc))
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	q, err := h.service.Adjust(r.Context(), AdjustInput{
		ItemID:         itemID,
		Delta:          req.Delta,
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePage(r, 100, 500)
	filter := AllocationFilter{Limit: page.Limit, Offset: page.Offset}
	if v := r.URL.Query().Get("item_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item_id")
			return
		}
		filter.ItemID = id
	}
	if v := r.URL.Query().Get("reference_type"); v != "" {
		t := ReferenceType(v)
		if !t.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown reference type")
			return
		}
		filter.ReferenceType = t
	}
	if v := r.URL.Query().Get("reference_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid reference_id")
			return
		}
		filter.ReferenceID = id
	}
	filter.ActiveOnly = r.URL.Query().Get("active") == "true"
	allocations, err := h.service.ListAllocations(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	resp := allocationListResponse{Allocations: make([]allocationResponse, 0, len(allocations))}
	for _, a := range allocations {
		resp.Allocations = append(resp.Allocations, newAllocationResponse(a))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleOutstanding(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	itemID, err := uuid.Parse(q.Get("item_id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item_id")
		return
	}
	refID, err := uuid.Parse(q.Get("reference_id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid reference_id")
		return
	}
	refType := ReferenceType(q.Get("reference_type"))
	outstanding, err := h.service.Outstanding(r.Context(), itemID, refType, refID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, outstandingResponse{
		ItemID:        itemID,
		ReferenceType: refType,
		ReferenceID:   refID,
		Outstanding:   outstanding,
	})
}

func (h *Handler) itemID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

// respondError maps domain errors to problem responses. ErrConcurrencyConflict
// is the only class the client should retry with the same inputs.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAllocationNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrPermissionDenied):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrExceedsOutstanding):
		httpx.Problem(w, http.StatusConflict, "Exceeds Outstanding", err.Error())
	case errors.Is(err, ErrConcurrencyConflict):
		httpx.Problem(w, http.StatusConflict, "Concurrent Update", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	default:
		h.logger.Error("inventory request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
