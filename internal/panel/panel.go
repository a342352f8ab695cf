// Package panel is the HTTP API of the ledger editor: the external process
// that mutates orders while the fix-server is running. Every successful
// mutation is applied to the ledger and then announced through the
// change-notification artifact the server polls.
package panel

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeromegit/bbg-emsx-simulator/internal/ledger"
)

// Handler serves the ledger editor API.
type Handler struct {
	ledger     *ledger.Ledger
	changePath string
	logger     *zap.Logger
}

// NewHandler creates a Handler writing change notifications to changePath.
func NewHandler(l *ledger.Ledger, changePath string, logger *zap.Logger) *Handler {
	return &Handler{ledger: l, changePath: changePath, logger: logger}
}

// Router returns the chi router with all panel routes registered.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/orders", h.listOrders)
	r.Post("/orders", h.addOrder)
	r.Put("/orders/{order_id}", h.editOrder)
	r.Delete("/orders/{order_id}", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed,
			"orders cannot be deleted, mark them inactive instead")
	})

	return r
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	rows, err := h.ledger.ReadAll(r.Context())
	if err != nil {
		h.logger.Error("failed to read ledger", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	if rows == nil {
		rows = []ledger.OrderSnapshot{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// addOrder inserts a new ledger row and notifies the server through the
// change artifact's added_rows list.
func (h *Handler) addOrder(w http.ResponseWriter, r *http.Request) {
	var snap ledger.OrderSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a valid order row")
		return
	}
	if msg := validateSnapshot(snap); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if _, err := h.ledger.Get(r.Context(), snap.OrderID); err == nil {
		writeError(w, http.StatusConflict, "order_id already exists")
		return
	}

	if _, err := h.ledger.Upsert(r.Context(), snap); err != nil {
		h.logger.Error("failed to insert order", zap.Int64("order_id", snap.OrderID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to insert order")
		return
	}

	h.notify(&ledger.ChangeSet{
		ChangeID:   uuid.NewString(),
		EditedRows: map[string]map[string]any{},
		AddedRows:  []ledger.OrderSnapshot{snap},
	})
	writeJSON(w, http.StatusCreated, snap)
}

// editOrder replaces a row's mutable fields. order_id and uuid are
// immutable for the life of the order.
func (h *Handler) editOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "order_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "order_id must be an integer")
		return
	}

	prev, err := h.ledger.Get(r.Context(), orderID)
	if err != nil {
		writeError(w, http.StatusNotFound, "no such order")
		return
	}

	var snap ledger.OrderSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a valid order row")
		return
	}
	snap.OrderID = orderID
	if msg := validateSnapshot(snap); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if snap.ClientID != prev.ClientID {
		writeError(w, http.StatusBadRequest, "uuid cannot be changed")
		return
	}

	diff, err := h.ledger.Upsert(r.Context(), snap)
	if err != nil {
		h.logger.Error("failed to update order", zap.Int64("order_id", orderID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update order")
		return
	}
	if len(diff) == 0 {
		writeJSON(w, http.StatusOK, snap)
		return
	}

	index, err := h.rowIndex(r, orderID)
	if err != nil {
		h.logger.Error("failed to locate edited row", zap.Int64("order_id", orderID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to locate edited row")
		return
	}

	changed := make(map[string]any, len(diff))
	for field, change := range diff {
		changed[field] = change.New
	}
	h.notify(&ledger.ChangeSet{
		ChangeID:   uuid.NewString(),
		EditedRows: map[string]map[string]any{strconv.Itoa(index): changed},
		AddedRows:  []ledger.OrderSnapshot{},
	})
	writeJSON(w, http.StatusOK, snap)
}

// rowIndex finds the order's ordinal position in ReadAll order, the row
// addressing scheme of the change artifact.
func (h *Handler) rowIndex(r *http.Request, orderID int64) (int, error) {
	rows, err := h.ledger.ReadAll(r.Context())
	if err != nil {
		return 0, err
	}
	for i, row := range rows {
		if row.OrderID == orderID {
			return i, nil
		}
	}
	return 0, ledger.ErrNotFound
}

func (h *Handler) notify(cs *ledger.ChangeSet) {
	if err := ledger.WriteChangeSet(h.changePath, cs); err != nil {
		h.logger.Error("failed to write change notification", zap.Error(err))
		return
	}
	h.logger.Info("wrote change notification",
		zap.String("change_id", cs.ChangeID),
		zap.Int("edited", len(cs.EditedRows)),
		zap.Int("added", len(cs.AddedRows)),
	)
}

func validateSnapshot(snap ledger.OrderSnapshot) string {
	switch {
	case snap.OrderID <= 0:
		return "order_id must be a positive integer"
	case snap.ClientID <= 0:
		return "uuid must be a positive integer"
	case !snap.Side.Valid():
		return "side must be Buy, Sell or Short"
	case snap.Shares < 0:
		return "shares must not be negative"
	case snap.Price.IsNegative():
		return "price must not be negative"
	case snap.Symbol == "":
		return "symbol is required"
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
