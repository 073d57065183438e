package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/paygate/internal/checkout"
	"github.com/ariefcatur/paygate/internal/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCheckout struct {
	reserveIn  checkout.ReserveInput
	reserveErr error
	view       checkout.PaymentView
	statusErr  error
	cancelWho  checkout.Identity
	cancelErr  error
}

func (s *stubCheckout) Reserve(ctx context.Context, in checkout.ReserveInput) (checkout.Reservation, error) {
	s.reserveIn = in
	if s.reserveErr != nil {
		return checkout.Reservation{}, s.reserveErr
	}
	return checkout.Reservation{
		PaymentID: "pay-1",
		Address:   "nano_3seller",
		Amount:    1500,
		Asset:     "XNO",
		ExpiresAt: time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
	}, nil
}

func (s *stubCheckout) GetStatus(ctx context.Context, paymentID string) (checkout.PaymentView, error) {
	if s.statusErr != nil {
		return checkout.PaymentView{}, s.statusErr
	}
	v := s.view
	v.PaymentID = paymentID
	return v, nil
}

func (s *stubCheckout) Cancel(ctx context.Context, paymentID string, who checkout.Identity) (payments.Payment, error) {
	s.cancelWho = who
	if s.cancelErr != nil {
		return payments.Payment{}, s.cancelErr
	}
	return payments.Payment{ID: paymentID, Status: payments.StatusCancelled}, nil
}

func newTestServer(c Checkout) http.Handler {
	r := NewRouter()
	(&PaymentsHandler{Checkout: c}).Register(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestServer(&stubCheckout{}), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReserve_Created(t *testing.T) {
	stub := &stubCheckout{}
	rec := do(t, newTestServer(stub), http.MethodPost, "/products/prod-1/reservations",
		`{"form_data":{"email":"a@b.c"}}`,
		map[string]string{HeaderSession: "sess-a", HeaderUser: "buyer-1"})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "pay-1", body["payment_id"])
	assert.Equal(t, "nano_3seller", body["address"])
	assert.EqualValues(t, 1500, body["amount"])

	assert.Equal(t, "prod-1", stub.reserveIn.ProductID)
	assert.Equal(t, "sess-a", stub.reserveIn.SessionID)
	assert.Equal(t, "buyer-1", stub.reserveIn.BuyerID)
	assert.Equal(t, map[string]string{"email": "a@b.c"}, stub.reserveIn.FormData)
}

func TestReserve_EmptyBodyAllowed(t *testing.T) {
	stub := &stubCheckout{}
	rec := do(t, newTestServer(stub), http.MethodPost, "/products/prod-1/reservations", "",
		map[string]string{HeaderSession: "sess-a"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, stub.reserveIn.BuyerID)
}

func TestReserve_BadRequests(t *testing.T) {
	h := newTestServer(&stubCheckout{})

	rec := do(t, h, http.MethodPost, "/products/prod-1/reservations", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/products/prod-1/reservations", "{not json", map[string]string{HeaderSession: "s"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteError_Mapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("x: %w", payments.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("x: %w", payments.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", payments.ErrOutOfStock), http.StatusConflict},
		{fmt.Errorf("x: %w", payments.ErrSaleWindowClosed), http.StatusConflict},
		{fmt.Errorf("x: %w", payments.ErrNoRecipient), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", payments.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("db gone"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			rec := do(t, newTestServer(&stubCheckout{reserveErr: tc.err}), http.MethodPost,
				"/products/prod-1/reservations", "", map[string]string{HeaderSession: "s"})
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestGetPayment(t *testing.T) {
	stub := &stubCheckout{view: checkout.PaymentView{Status: payments.StatusConfirmed, TxID: "tx-1"}}
	rec := do(t, newTestServer(stub), http.MethodGet, "/payments/pay-9", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var v checkout.PaymentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "pay-9", v.PaymentID)
	assert.Equal(t, payments.StatusConfirmed, v.Status)
	assert.Equal(t, "tx-1", v.TxID)
}

func TestGetPayment_NotFound(t *testing.T) {
	stub := &stubCheckout{statusErr: fmt.Errorf("status: %w", payments.ErrNotFound)}
	rec := do(t, newTestServer(stub), http.MethodGet, "/payments/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancel(t *testing.T) {
	stub := &stubCheckout{}
	rec := do(t, newTestServer(stub), http.MethodPost, "/payments/pay-1/cancel", "", map[string]string{HeaderUser: "buyer-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"payment_id":"pay-1","status":"cancelled"}`, rec.Body.String())
	assert.Equal(t, "buyer-1", stub.cancelWho.UserID)
}

func TestCancel_Forbidden(t *testing.T) {
	stub := &stubCheckout{cancelErr: fmt.Errorf("cancel: %w", payments.ErrForbidden)}
	rec := do(t, newTestServer(stub), http.MethodPost, "/payments/pay-1/cancel", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
