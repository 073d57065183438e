package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/paygate/internal/checkout"
	"github.com/ariefcatur/paygate/internal/payments"
	"github.com/go-chi/chi/v5"
)

const (
	HeaderSession = "X-Session-Id"
	// HeaderUser carries the authenticated user id set by the upstream gateway.
	HeaderUser = "X-User-Id"
)

// Checkout is the part of checkout.Service the handler exposes.
type Checkout interface {
	Reserve(ctx context.Context, in checkout.ReserveInput) (checkout.Reservation, error)
	GetStatus(ctx context.Context, paymentID string) (checkout.PaymentView, error)
	Cancel(ctx context.Context, paymentID string, who checkout.Identity) (payments.Payment, error)
}

type PaymentsHandler struct {
	Checkout Checkout
	Logger   *slog.Logger
}

type reserveReq struct {
	FormData map[string]string `json:"form_data"`
}

type cancelResp struct {
	PaymentID string          `json:"payment_id"`
	Status    payments.Status `json:"status"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/products/{id}/reservations", h.reserve)
	r.Get("/payments/{id}", h.getPayment)
	r.Post("/payments/{id}/cancel", h.cancel)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *PaymentsHandler) reserve(w http.ResponseWriter, r *http.Request) {
	session := r.Header.Get(HeaderSession)
	if session == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing " + HeaderSession})
		return
	}
	var req reserveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Checkout.Reserve(ctx, checkout.ReserveInput{
		ProductID: chi.URLParam(r, "id"),
		SessionID: session,
		BuyerID:   r.Header.Get(HeaderUser),
		FormData:  req.FormData,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *PaymentsHandler) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	v, err := h.Checkout.GetStatus(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *PaymentsHandler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Checkout.Cancel(ctx, chi.URLParam(r, "id"), checkout.Identity{UserID: r.Header.Get(HeaderUser)})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResp{PaymentID: p.ID, Status: p.Status})
}

func (h *PaymentsHandler) writeError(w http.ResponseWriter, err error) {
	code, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, payments.ErrInvalidInput):
		code, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, payments.ErrNotFound):
		code, msg = http.StatusNotFound, "not found"
	case errors.Is(err, payments.ErrOutOfStock):
		code, msg = http.StatusConflict, "out of stock"
	case errors.Is(err, payments.ErrSaleWindowClosed):
		code, msg = http.StatusConflict, "sale closed"
	case errors.Is(err, payments.ErrNoRecipient):
		code, msg = http.StatusUnprocessableEntity, "seller has no payment address"
	case errors.Is(err, payments.ErrForbidden):
		code, msg = http.StatusForbidden, "forbidden"
	default:
		if h.Logger != nil {
			h.Logger.Error("request failed", "err", err)
		}
	}
	writeJSON(w, code, map[string]string{"error": msg})
}
