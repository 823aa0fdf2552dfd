package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-railway/internal/auth"
	"ms-railway/internal/booking"
	"ms-railway/internal/cancellation"
	"ms-railway/internal/catalog"
	"ms-railway/internal/inventory"
	"ms-railway/internal/models"
	"ms-railway/internal/payment"
	"ms-railway/internal/query"
	"ms-railway/internal/reconcile"
	"ms-railway/internal/store"
	"ms-railway/internal/testutil"
	"ms-railway/internal/tickets/qr"
)

type server struct {
	*httptest.Server
	verifier *auth.HMACVerifier
	store    *store.DB
	ledger   *inventory.Ledger
	date     string
}

func newServer(t *testing.T, capacity int) *server {
	date := time.Now().AddDate(0, 0, 30).Format(models.DateLayout)
	db := testutil.NewDB(t)
	testutil.Seed(t, db, testutil.Network{Capacity2A: capacity}, date)

	st := store.New(db)
	cat := catalog.New(db)
	ledger := inventory.NewLedger(db)
	retry := inventory.RetryPolicy{Attempts: 2, Initial: time.Millisecond}

	codes, err := qr.NewGenerator("qr-secret", 128)
	require.NoError(t, err)

	h := &Handler{
		Bookings: booking.NewManager(booking.Deps{Catalog: cat, Ledger: ledger, Store: st},
			booking.Options{Retry: retry}),
		Cancellations: cancellation.NewManager(cancellation.Deps{Store: st, Schedule: cat, Ledger: ledger},
			cancellation.Options{Retry: retry}),
		Payments:  payment.NewService(st, nil, nil, "", nil),
		Queries:   query.NewService(query.Deps{Catalog: cat, Ledger: ledger, Store: st}, retry),
		QR:        codes,
		Reconcile: reconcile.NewService(st, ledger, nil, retry, nil),
	}
	verifier := auth.NewHMACVerifier("jwt-secret", "")
	srv := httptest.NewServer(NewRouter(h, verifier, RouterConfig{CORSAllowedOrigins: []string{"*"}}))
	t.Cleanup(srv.Close)
	return &server{Server: srv, verifier: verifier, store: st, ledger: ledger, date: date}
}

func (s *server) token(t *testing.T, user string, role models.Role) string {
	t.Helper()
	tok, err := s.verifier.Sign(auth.Identity{UserID: user, Role: role},
		jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)
	return tok
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Reason  string          `json:"reason"`
}

func (s *server) do(t *testing.T, method, path, token string, body interface{}) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out response
	if res.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	}
	return res.StatusCode, out
}

func (s *server) bookingBody(n int) map[string]interface{} {
	passengers := make([]map[string]interface{}, n)
	for i := range passengers {
		passengers[i] = map[string]interface{}{"name": fmt.Sprintf("P%d", i+1), "age": 30, "gender": "F"}
	}
	return map[string]interface{}{
		"train_no":    "T001",
		"class_id":    "2A",
		"travel_date": s.date,
		"source":      "NDLS",
		"destination": "BPL",
		"passengers":  passengers,
	}
}

func TestHealthAndSearch(t *testing.T) {
	s := newServer(t, 5)

	status, _ := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, res := s.do(t, http.MethodGet, "/api/trains/search?source=NDLS&destination=BPL&date="+s.date, "", nil)
	require.Equal(t, http.StatusOK, status)
	var options []models.TrainOption
	require.NoError(t, json.Unmarshal(res.Data, &options))
	require.Len(t, options, 1)
	assert.Equal(t, 5, options[0].Classes[0].AvailableSeats)

	status, res = s.do(t, http.MethodGet, "/api/trains/search?source=NDLS&destination=BPL&date=soon", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", res.Reason)
}

func TestBookingFlow(t *testing.T) {
	s := newServer(t, 5)
	alice := s.token(t, "alice", models.RolePassenger)
	bob := s.token(t, "bob", models.RolePassenger)

	status, _ := s.do(t, http.MethodPost, "/api/bookings", "", s.bookingBody(1))
	assert.Equal(t, http.StatusUnauthorized, status)

	status, res := s.do(t, http.MethodPost, "/api/bookings", alice, s.bookingBody(3))
	require.Equal(t, http.StatusCreated, status, res.Error)
	var ticket models.Ticket
	require.NoError(t, json.Unmarshal(res.Data, &ticket))
	assert.Equal(t, "alice", ticket.UserID)

	status, res = s.do(t, http.MethodGet, "/api/trains/T001/classes/2A/availability?date="+s.date, "", nil)
	require.Equal(t, http.StatusOK, status)
	var avail models.AvailabilityResponse
	require.NoError(t, json.Unmarshal(res.Data, &avail))
	assert.Equal(t, 2, avail.AvailableSeats)

	status, res = s.do(t, http.MethodPost, "/api/bookings", bob, s.bookingBody(3))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "no_seats", res.Reason)

	status, res = s.do(t, http.MethodGet, "/api/tickets/"+ticket.PNR, bob, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", res.Reason)

	status, _ = s.do(t, http.MethodPost, "/api/tickets/"+ticket.PNR+"/payments", alice,
		map[string]interface{}{"amount": ticket.TotalFare, "mode": "upi"})
	assert.Equal(t, http.StatusCreated, status)
	status, res = s.do(t, http.MethodPost, "/api/tickets/"+ticket.PNR+"/payments", alice,
		map[string]interface{}{"amount": ticket.TotalFare, "mode": "upi"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_paid", res.Reason)

	status, res = s.do(t, http.MethodPost, "/api/tickets/"+ticket.PNR+"/cancel", alice, map[string]string{"reason": "ill"})
	require.Equal(t, http.StatusOK, status, res.Error)
	var c models.Cancellation
	require.NoError(t, json.Unmarshal(res.Data, &c))
	assert.Greater(t, c.RefundAmount, 0.0)

	status, res = s.do(t, http.MethodPost, "/api/tickets/"+ticket.PNR+"/cancel", alice, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_cancelled", res.Reason)

	status, res = s.do(t, http.MethodGet, "/api/tickets", alice, nil)
	require.Equal(t, http.StatusOK, status)
	var mine []models.Ticket
	require.NoError(t, json.Unmarshal(res.Data, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, models.TicketCancelled, mine[0].Status)

	status, res = s.do(t, http.MethodGet, "/api/payments", alice, nil)
	require.Equal(t, http.StatusOK, status)
	var payments []models.Payment
	require.NoError(t, json.Unmarshal(res.Data, &payments))
	assert.Len(t, payments, 1)
}

func TestBooking_BadRequests(t *testing.T) {
	s := newServer(t, 5)
	alice := s.token(t, "alice", models.RolePassenger)

	req, err := http.NewRequest(http.MethodPost, s.URL+"/api/bookings", bytes.NewBufferString("{"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+alice)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	body := s.bookingBody(2)
	body["destination"] = "NDLS"
	status, out := s.do(t, http.MethodPost, "/api/bookings", alice, body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_route", out.Reason)

	status, out = s.do(t, http.MethodPost, "/api/tickets/PNRNOPE/cancel", alice, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", out.Reason)
}

func TestTicketQR(t *testing.T) {
	s := newServer(t, 5)
	alice := s.token(t, "alice", models.RolePassenger)
	admin := s.token(t, "ops", models.RoleAdmin)

	status, res := s.do(t, http.MethodPost, "/api/bookings", alice, s.bookingBody(1))
	require.Equal(t, http.StatusCreated, status)
	var ticket models.Ticket
	require.NoError(t, json.Unmarshal(res.Data, &ticket))

	req, err := http.NewRequest(http.MethodGet, s.URL+"/api/tickets/"+ticket.PNR+"/qr", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+alice)
	png, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	png.Body.Close()
	assert.Equal(t, http.StatusOK, png.StatusCode)
	assert.Equal(t, "image/png", png.Header.Get("Content-Type"))

	codes, err := qr.NewGenerator("qr-secret", 128)
	require.NoError(t, err)
	token, err := codes.Seal(qr.Summary{PNR: ticket.PNR})
	require.NoError(t, err)

	status, _ = s.do(t, http.MethodPost, "/api/tickets/verify", alice, map[string]string{"token": token})
	assert.Equal(t, http.StatusForbidden, status)

	status, res = s.do(t, http.MethodPost, "/api/tickets/verify", admin, map[string]string{"token": token})
	require.Equal(t, http.StatusOK, status)
	var summary qr.Summary
	require.NoError(t, json.Unmarshal(res.Data, &summary))
	assert.Equal(t, models.TicketBooked, summary.Status)

	status, _ = s.do(t, http.MethodPost, "/api/tickets/verify", admin, map[string]string{"token": "forged"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestReconciliation(t *testing.T) {
	s := newServer(t, 5)
	alice := s.token(t, "alice", models.RolePassenger)
	admin := s.token(t, "ops", models.RoleAdmin)
	ctx := context.Background()
	key := models.LedgerKey{TrainNo: "T001", ClassID: "2A", TravelDate: s.date}

	require.NoError(t, s.ledger.Reserve(ctx, key, 2))
	require.NoError(t, s.store.FlagReconciliation(ctx, &models.LedgerReconciliation{
		ID: "RCN1", TrainNo: key.TrainNo, ClassID: key.ClassID, TravelDate: key.TravelDate,
		Seats: 2, Operation: "booking_compensation", CreatedAt: time.Now().UTC(),
	}))

	status, _ := s.do(t, http.MethodGet, "/api/admin/reconciliations", alice, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, res := s.do(t, http.MethodGet, "/api/admin/reconciliations", admin, nil)
	require.Equal(t, http.StatusOK, status)
	var flags []models.LedgerReconciliation
	require.NoError(t, json.Unmarshal(res.Data, &flags))
	require.Len(t, flags, 1)

	status, res = s.do(t, http.MethodGet, "/api/admin/ledger/T001/2A?date="+s.date, admin, nil)
	require.Equal(t, http.StatusOK, status)
	var audit reconcile.Audit
	require.NoError(t, json.Unmarshal(res.Data, &audit))
	assert.Equal(t, 2, audit.Missing)

	status, res = s.do(t, http.MethodGet, "/api/admin/ledger/T001/2A?date=%20"+s.date+"%20", admin, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(res.Data, &audit))
	assert.Equal(t, s.date, audit.Key.TravelDate)

	status, res = s.do(t, http.MethodGet, "/api/admin/ledger/T001/2A?date=2024-5-1", admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", res.Reason)

	status, _ = s.do(t, http.MethodPost, "/api/admin/reconciliations/RCN1/resolve", admin, map[string]bool{"release": true})
	require.Equal(t, http.StatusOK, status)

	status, res = s.do(t, http.MethodPost, "/api/admin/reconciliations/RCN1/resolve", admin, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_resolved", res.Reason)

	status, res = s.do(t, http.MethodGet, "/api/trains/T001/classes/2A/availability?date="+s.date, "", nil)
	require.Equal(t, http.StatusOK, status)
	var avail models.AvailabilityResponse
	require.NoError(t, json.Unmarshal(res.Data, &avail))
	assert.Equal(t, 5, avail.AvailableSeats)
}

type releasePendingCanceller struct {
	record *models.Cancellation
}

func (c releasePendingCanceller) Cancel(context.Context, models.CancelRequest) (*models.Cancellation, error) {
	return c.record, fmt.Errorf("%w: release 2 seats on T001/2A", cancellation.ErrStorageFailure)
}

func TestCancelTicket_ReleasePendingKeepsRecord(t *testing.T) {
	record := &models.Cancellation{CancellationID: "CAN1", PNR: "PNR1", Reason: "plans changed", RefundAmount: 1181.25}
	verifier := auth.NewHMACVerifier("jwt-secret", "")
	h := &Handler{Cancellations: releasePendingCanceller{record: record}}
	srv := httptest.NewServer(NewRouter(h, verifier, RouterConfig{}))
	t.Cleanup(srv.Close)
	s := &server{Server: srv, verifier: verifier}

	status, res := s.do(t, http.MethodPost, "/api/tickets/PNR1/cancel", s.token(t, "alice", models.RolePassenger), nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "storage_failure", res.Reason)
	assert.False(t, res.Success)

	var got models.Cancellation
	require.NoError(t, json.Unmarshal(res.Data, &got))
	assert.Equal(t, "CAN1", got.CancellationID)
	assert.Equal(t, 1181.25, got.RefundAmount)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		reason string
	}{
		{&booking.Error{Reason: booking.ReasonNoSeats}, http.StatusConflict, "no_seats"},
		{&booking.Error{Reason: booking.ReasonInvalidSchedule}, http.StatusBadRequest, "invalid_schedule"},
		{&booking.Error{Reason: booking.ReasonStorageFailure}, http.StatusServiceUnavailable, "storage_failure"},
		{cancellation.ErrNotFound, http.StatusNotFound, "not_found"},
		{cancellation.ErrNotOwner, http.StatusForbidden, "forbidden"},
		{fmt.Errorf("%w: release", cancellation.ErrStorageFailure), http.StatusServiceUnavailable, "storage_failure"},
		{payment.ErrAlreadyPaid, http.StatusConflict, "already_paid"},
		{inventory.ErrConsistencyViolation, http.StatusInternalServerError, "consistency_violation"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		status, reason := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.reason, reason, tt.err.Error())
	}
}
