package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/rl1809/retail-floor/internal/adapter/auth"
	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/core/service"
	"github.com/rl1809/retail-floor/internal/port"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxBodyBytes      = 1 << 20
)

type HTTPHandler struct {
	queue     *service.QueueService
	inventory *service.InventoryService
	supply    *service.SupplyService
	verifier  port.IdentityVerifier
	idem      port.IdempotencyStore
	logger    *zap.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type registerRepRequest struct {
	Name string `json:"name"`
}

type profilePatchRequest struct {
	service.ProfileUpdate
	Status *string `json:"status"`
}

type createCustomerRequest struct {
	Name string `json:"customer_name"`
}

type inventoryPatchRequest struct {
	ItemIDs    []int64        `json:"itemIds"`
	UpdateData map[string]any `json:"updateData"`
}

type inventoryPatchResponse struct {
	Message      string                 `json:"message"`
	UpdatedItems []domain.InventoryItem `json:"updatedItems"`
}

type transferLine struct {
	InventoryItemID int64  `json:"inventory_item_id"`
	TransferFrom    string `json:"transfer_from"`
	TransferTo      string `json:"transfer_to"`
}

type createTransfersRequest struct {
	Transfers []transferLine `json:"transfers"`
}

type createTransfersResponse struct {
	Message   string            `json:"message"`
	Transfers []domain.Transfer `json:"transfers"`
}

type completeTransferRequest struct {
	TransferID        int64  `json:"transferId"`
	ReceivingLocation string `json:"receivingLocation"`
}

type completeTransferResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	*service.TransferCompletion
}

type createSupplyOrderRequest struct {
	ProductTypeID int64  `json:"product_type_id"`
	Quantity      int    `json:"quantity"`
	LeadTimeDays  int    `json:"lead_time_days"`
	Color         string `json:"color"`
	Size          string `json:"size"`
}

type completeSupplyOrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	*service.SupplyDelivery
}

// NewHTTPHandler builds the REST surface. idem may be nil, in which case
// Idempotency-Key headers are ignored.
func NewHTTPHandler(
	queue *service.QueueService,
	inventory *service.InventoryService,
	supply *service.SupplyService,
	verifier port.IdentityVerifier,
	idem port.IdempotencyStore,
	logger *zap.Logger,
) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		queue:     queue,
		inventory: inventory,
		supply:    supply,
		verifier:  verifier,
		idem:      idem,
		logger:    logger,
	}
}

// Register mounts every route on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)

	mux.HandleFunc("GET /api/salesreps", h.ListReps)
	mux.HandleFunc("POST /api/salesreps/me", h.authenticated(h.RegisterRep))
	mux.HandleFunc("GET /api/salesreps/me", h.authenticated(h.GetMyProfile))
	mux.HandleFunc("PATCH /api/salesreps/me", h.authenticated(h.UpdateMyProfile))
	mux.HandleFunc("PATCH /api/salesreps/finish", h.authenticated(h.FinishCurrentCustomer))
	mux.HandleFunc("PATCH /api/salesreps/reset", h.authenticated(h.ResetRep))

	mux.HandleFunc("GET /api/customers", h.ListCustomers)
	mux.HandleFunc("POST /api/customers", h.idempotent(h.CreateCustomer))
	mux.HandleFunc("PATCH /api/customers/update/next", h.authenticated(h.AssignNextCustomer))
	mux.HandleFunc("DELETE /api/customers/{id}", h.authenticated(h.DeleteCustomer))

	mux.HandleFunc("GET /api/inventory", h.ListInventory)
	mux.HandleFunc("GET /api/product", h.ListProductTypes)
	mux.HandleFunc("PATCH /api/inventory/status", h.PatchInventory)

	mux.HandleFunc("GET /api/transfers", h.ListTransfers)
	mux.HandleFunc("POST /api/transfers", h.idempotent(h.CreateTransfers))
	mux.HandleFunc("PATCH /api/transfers/complete", h.CompleteTransfer)

	mux.HandleFunc("GET /api/supply_orders", h.ListSupplyOrders)
	mux.HandleFunc("POST /api/supply_orders", h.idempotent(h.CreateSupplyOrder))
	mux.HandleFunc("PATCH /api/supply_orders/{id}/complete", h.CompleteSupplyOrder)
}

type identityHandler func(w http.ResponseWriter, r *http.Request, identity string)

func (h *HTTPHandler) authenticated(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" || h.verifier == nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
			return
		}
		identity, err := h.verifier.Verify(r.Context(), token)
		if err != nil {
			h.writeError(w, err)
			return
		}
		next(w, r, identity)
	}
}

// idempotent rejects a request whose Idempotency-Key was already seen.
func (h *HTTPHandler) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyHeader)
		if key == "" || h.idem == nil {
			next(w, r)
			return
		}
		scoped := r.Method + " " + r.URL.Path + " " + key
		fresh, err := h.idem.SetIdempotency(r.Context(), scoped)
		if err != nil {
			h.writeError(w, domain.Internal("idempotency check", err))
			return
		}
		if !fresh {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "duplicate request"})
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if rec.status >= 200 && rec.status < 300 {
			return
		}
		// Nothing was stored, so the caller may retry with the same key.
		if err := h.idem.ReleaseIdempotency(context.WithoutCancel(r.Context()), scoped); err != nil {
			h.logger.Warn("failed to release idempotency key", zap.String("key", scoped), zap.Error(err))
		}
	}
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ListReps(w http.ResponseWriter, r *http.Request) {
	reps, err := h.queue.ListReps(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reps)
}

func (h *HTTPHandler) RegisterRep(w http.ResponseWriter, r *http.Request, identity string) {
	var req registerRepRequest
	if !h.decode(w, r, &req) {
		return
	}
	rep, err := h.queue.RegisterRep(r.Context(), identity, req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (h *HTTPHandler) GetMyProfile(w http.ResponseWriter, r *http.Request, identity string) {
	rep, err := h.queue.GetMyProfile(r.Context(), identity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *HTTPHandler) UpdateMyProfile(w http.ResponseWriter, r *http.Request, identity string) {
	var req profilePatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Status != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "status is managed by customer assignment and cannot be patched"})
		return
	}
	rep, err := h.queue.UpdateMyProfile(r.Context(), identity, req.ProfileUpdate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *HTTPHandler) FinishCurrentCustomer(w http.ResponseWriter, r *http.Request, identity string) {
	completion, err := h.queue.FinishCurrentCustomer(r.Context(), identity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completion)
}

func (h *HTTPHandler) ResetRep(w http.ResponseWriter, r *http.Request, identity string) {
	rep, err := h.queue.ResetRep(r.Context(), identity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *HTTPHandler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.queue.ListCustomers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

func (h *HTTPHandler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}
	customer, err := h.queue.CreateCustomer(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, customer)
}

func (h *HTTPHandler) AssignNextCustomer(w http.ResponseWriter, r *http.Request, identity string) {
	assignment, err := h.queue.AssignNextCustomer(r.Context(), identity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (h *HTTPHandler) DeleteCustomer(w http.ResponseWriter, r *http.Request, _ string) {
	id, ok := h.pathID(w, r, "customer")
	if !ok {
		return
	}
	if err := h.queue.DeleteCustomer(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) ListInventory(w http.ResponseWriter, r *http.Request) {
	items, err := h.inventory.ListInventory(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *HTTPHandler) ListProductTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.inventory.ListProductTypes(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (h *HTTPHandler) PatchInventory(w http.ResponseWriter, r *http.Request) {
	var req inventoryPatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	items, err := h.inventory.PatchInventoryFields(r.Context(), req.ItemIDs, req.UpdateData)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inventoryPatchResponse{
		Message:      fmt.Sprintf("Updated %d inventory items successfully.", len(items)),
		UpdatedItems: items,
	})
}

func (h *HTTPHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.inventory.ListTransfers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

// CreateTransfers accepts the batch shape the floor UI posts: one line per
// item, all heading to the same destination.
func (h *HTTPHandler) CreateTransfers(w http.ResponseWriter, r *http.Request) {
	var req createTransfersRequest
	if !h.decode(w, r, &req) {
		return
	}
	transferReq, err := req.toDomain()
	if err != nil {
		h.writeError(w, err)
		return
	}
	transfers, err := h.inventory.CreateTransfer(r.Context(), transferReq)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createTransfersResponse{
		Message:   fmt.Sprintf("Created %d transfer records successfully.", len(transfers)),
		Transfers: transfers,
	})
}

func (req createTransfersRequest) toDomain() (domain.TransferRequest, error) {
	out := domain.TransferRequest{FromLocations: make(map[int64]string)}
	for _, line := range req.Transfers {
		if out.ToLocation == "" {
			out.ToLocation = line.TransferTo
		} else if line.TransferTo != out.ToLocation {
			return out, fmt.Errorf("%w: all transfers in a batch must share one destination", domain.ErrInvalidInput)
		}
		out.ItemIDs = append(out.ItemIDs, line.InventoryItemID)
		if line.TransferFrom != "" {
			out.FromLocations[line.InventoryItemID] = line.TransferFrom
		}
	}
	return out, nil
}

func (h *HTTPHandler) CompleteTransfer(w http.ResponseWriter, r *http.Request) {
	var req completeTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	completion, err := h.inventory.CompleteTransfer(r.Context(), req.TransferID, req.ReceivingLocation)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completeTransferResponse{
		Success:            true,
		Message:            fmt.Sprintf("Transfer %d completed successfully.", req.TransferID),
		TransferCompletion: completion,
	})
}

func (h *HTTPHandler) ListSupplyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.supply.ListSupplyOrders(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if orders == nil {
		orders = []domain.SupplyOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) CreateSupplyOrder(w http.ResponseWriter, r *http.Request) {
	var req createSupplyOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.supply.CreateSupplyOrder(r.Context(), service.SupplyOrderRequest{
		ProductTypeID: req.ProductTypeID,
		Quantity:      req.Quantity,
		LeadTimeDays:  req.LeadTimeDays,
		Color:         req.Color,
		Size:          req.Size,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *HTTPHandler) CompleteSupplyOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "order")
	if !ok {
		return
	}
	delivery, err := h.supply.CompleteSupplyOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completeSupplyOrderResponse{
		Success:        true,
		Message:        fmt.Sprintf("Order %d completed. %d items added.", id, len(delivery.AddedItems)),
		SupplyDelivery: delivery,
	})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes)})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func (h *HTTPHandler) pathID(w http.ResponseWriter, r *http.Request, what string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid %s ID format", what)})
		return 0, false
	}
	return id, true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func httpStatus(err error) int {
	if errors.Is(err, port.ErrUnauthenticated) {
		return http.StatusUnauthorized
	}
	switch domain.Kind(err) {
	case domain.ErrInvalidInput:
		return http.StatusBadRequest
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
