// Package api exposes the reservation core over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-railway/internal/auth"
	"ms-railway/internal/catalog"
	"ms-railway/internal/logger"
	"ms-railway/internal/models"
	"ms-railway/internal/reconcile"
	"ms-railway/internal/tickets/qr"
	"ms-railway/internal/utils"
)

const maxBodyBytes = 1 << 20

type Booker interface {
	Book(ctx context.Context, req models.BookingRequest) (*models.Ticket, error)
}

type Canceller interface {
	Cancel(ctx context.Context, req models.CancelRequest) (*models.Cancellation, error)
}

type PaymentRecorder interface {
	Record(ctx context.Context, req models.RecordPaymentRequest) (*models.Payment, error)
}

type Queries interface {
	Search(ctx context.Context, source, destination, date string) ([]models.TrainOption, error)
	Availability(ctx context.Context, trainNo, classID, date string) (*models.AvailabilityResponse, error)
	Ticket(ctx context.Context, pnr, userID string, role models.Role) (*models.TicketDetails, error)
	TicketsForUser(ctx context.Context, userID string) ([]*models.Ticket, error)
	PaymentsForUser(ctx context.Context, userID string) ([]*models.Payment, error)
}

type Reconciler interface {
	Open(ctx context.Context) ([]*models.LedgerReconciliation, error)
	Audit(ctx context.Context, key models.LedgerKey) (*reconcile.Audit, error)
	Resolve(ctx context.Context, id, operator string, release bool) (*models.LedgerReconciliation, error)
}

type QRCodes interface {
	PNG(t *models.Ticket) ([]byte, error)
	Open(token string) (*qr.Summary, error)
}

type Handler struct {
	Bookings      Booker
	Cancellations Canceller
	Payments      PaymentRecorder
	Queries       Queries
	QR            QRCodes
	Reconcile     Reconciler
	Logger        *logger.Logger
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
}

func (h *Handler) SearchTrains(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := q.Get("date")
	if date == "" {
		h.badRequest(w, "date is required")
		return
	}

	options, err := h.Queries.Search(r.Context(), q.Get("source"), q.Get("destination"), date)
	if err != nil {
		h.fail(w, r, "Search failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("%d trains found", len(options)), options))
}

func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		h.badRequest(w, "date is required")
		return
	}

	got, err := h.Queries.Availability(r.Context(), chi.URLParam(r, "trainNo"), chi.URLParam(r, "classId"), date)
	if err != nil {
		h.fail(w, r, "Availability lookup failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Availability", got))
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req models.BookingRequest
	if err := decode(r, &req, false); err != nil {
		h.badRequest(w, "Invalid request body: "+err.Error())
		return
	}
	req.UserID = id.UserID

	ticket, err := h.Bookings.Book(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Booking failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Ticket booked", ticket))
}

func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	tickets, err := h.Queries.TicketsForUser(r.Context(), id.UserID)
	if err != nil {
		h.fail(w, r, "Could not list tickets", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tickets", tickets))
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	details, err := h.Queries.Ticket(r.Context(), chi.URLParam(r, "pnr"), id.UserID, id.Role)
	if err != nil {
		h.fail(w, r, "Could not load ticket", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket", details))
}

func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	details, err := h.Queries.Ticket(r.Context(), chi.URLParam(r, "pnr"), id.UserID, id.Role)
	if err != nil {
		h.fail(w, r, "Could not load ticket", err)
		return
	}
	if details.Ticket.Status != models.TicketBooked {
		utils.WriteJSON(w, http.StatusConflict,
			utils.ErrorResponse("No QR code for a cancelled ticket", details.Ticket.PNR).WithReason(reasonTicketCancelled))
		return
	}

	png, err := h.QR.PNG(details.Ticket)
	if err != nil {
		h.Logger.Error("QR", fmt.Sprintf("QR generation failed for %s: %v", details.Ticket.PNR, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("QR generation failed", err.Error()))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// VerifyQR is the checker's endpoint: it opens a scanned token and reports the
// ticket's current status.
func (h *Handler) VerifyQR(w http.ResponseWriter, r *http.Request) {
	id, ok := h.admin(w, r)
	if !ok {
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := decode(r, &body, false); err != nil || body.Token == "" {
		h.badRequest(w, "token is required")
		return
	}

	summary, err := h.QR.Open(body.Token)
	if err != nil {
		h.badRequest(w, "Invalid QR code")
		return
	}
	details, err := h.Queries.Ticket(r.Context(), summary.PNR, id.UserID, id.Role)
	if err != nil {
		h.fail(w, r, "Could not load ticket", err)
		return
	}
	summary.Status = details.Ticket.Status
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("QR verified", summary))
}

func (h *Handler) CancelTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req models.CancelRequest
	if err := decode(r, &req, true); err != nil {
		h.badRequest(w, "Invalid request body: "+err.Error())
		return
	}
	req.PNR = chi.URLParam(r, "pnr")
	req.UserID = id.UserID
	req.Role = id.Role

	c, err := h.Cancellations.Cancel(r.Context(), req)
	if err != nil && c != nil {
		// Cancelled, but the seats are not back in the ledger yet.
		h.failWith(w, r, "Ticket cancelled, seat release pending", err, c)
		return
	}
	if err != nil {
		h.fail(w, r, "Cancellation failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket cancelled", c))
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req models.RecordPaymentRequest
	if err := decode(r, &req, false); err != nil {
		h.badRequest(w, "Invalid request body: "+err.Error())
		return
	}
	req.PNR = chi.URLParam(r, "pnr")
	req.UserID = id.UserID
	req.Role = id.Role

	p, err := h.Payments.Record(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Payment not recorded", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Payment recorded", p))
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	payments, err := h.Queries.PaymentsForUser(r.Context(), id.UserID)
	if err != nil {
		h.fail(w, r, "Could not list payments", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payments", payments))
}

func (h *Handler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}

	flags, err := h.Reconcile.Open(r.Context())
	if err != nil {
		h.fail(w, r, "Could not list reconciliation flags", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("%d open flags", len(flags)), flags))
}

// ResolveReconciliation closes a flag. The body {"release": true} returns the
// flagged seats to the ledger first; without it the flag is dismissed.
func (h *Handler) ResolveReconciliation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.admin(w, r)
	if !ok {
		return
	}

	var body struct {
		Release bool `json:"release"`
	}
	if err := decode(r, &body, true); err != nil {
		h.badRequest(w, "Invalid request body: "+err.Error())
		return
	}

	flag, err := h.Reconcile.Resolve(r.Context(), chi.URLParam(r, "id"), id.UserID, body.Release)
	if err != nil {
		h.fail(w, r, "Could not resolve flag", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Flag resolved", flag))
}

func (h *Handler) AuditLedger(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		h.badRequest(w, "date is required")
		return
	}
	day, err := catalog.ParseDate(date)
	if err != nil {
		h.badRequest(w, "date must be YYYY-MM-DD")
		return
	}
	key := models.LedgerKey{
		TrainNo:    chi.URLParam(r, "trainNo"),
		ClassID:    chi.URLParam(r, "classId"),
		TravelDate: day.Format(models.DateLayout),
	}

	audit, err := h.Reconcile.Audit(r.Context(), key)
	if err != nil {
		h.fail(w, r, "Audit failed", err)
		return
	}
	if audit == nil {
		utils.WriteJSON(w, http.StatusNotFound,
			utils.ErrorResponse("No ledger row for "+key.String(), "").WithReason(reasonNotFound))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ledger audit", audit))
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Authorization required", "no identity on request"))
	}
	return id, ok
}

func (h *Handler) admin(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := h.identity(w, r)
	if ok && id.Role != models.RoleAdmin {
		h.Logger.LogSecurity("FORBIDDEN", fmt.Sprintf("%s requested %s without admin role", id.UserID, r.URL.Path))
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Admin role required", "").WithReason(reasonForbidden))
		return id, false
	}
	return id, ok
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse(msg, msg).WithReason(reasonInvalidRequest))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.failWith(w, r, msg, err, nil)
}

// failWith is fail with a payload for errors that still produced a result.
func (h *Handler) failWith(w http.ResponseWriter, r *http.Request, msg string, err error, data interface{}) {
	status, reason := classify(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("HTTP", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
	}
	utils.WriteJSON(w, status, utils.ErrorResponse(msg, err.Error()).WithReason(reason).WithData(data))
}

// decode reads a JSON body. With optional set an empty body is accepted.
func decode(r *http.Request, v interface{}, optional bool) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	err := json.NewDecoder(body).Decode(v)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errors.New("request body too large")
	}
	return err
}
