// Package payment records payments against tickets. No gateway is called here;
// a payment is a fact reported by the caller or by the payment results topic.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-railway/internal/idgen"
	"ms-railway/internal/kafka"
	"ms-railway/internal/logger"
	"ms-railway/internal/models"
	"ms-railway/internal/store"
)

var (
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrNotOwner        = errors.New("ticket belongs to another user")
	ErrTicketCancelled = errors.New("ticket is cancelled")
	ErrInvalidPayment  = errors.New("invalid payment")
	ErrAlreadyPaid     = errors.New("ticket already paid")
	ErrStorageFailure  = errors.New("storage failure")
)

type Store interface {
	GetTicket(ctx context.Context, pnr string) (*models.Ticket, error)
	CreatePayment(ctx context.Context, p *models.Payment) error
	PaymentsByUser(ctx context.Context, userID string) ([]*models.Payment, error)
}

type Service struct {
	store     Store
	ids       idgen.Generator
	publisher kafka.Publisher
	topic     string
	log       *logger.Logger
	now       func() time.Time
}

// NewService wires the recorder. publisher may be nil.
func NewService(s Store, ids idgen.Generator, publisher kafka.Publisher, topic string, log *logger.Logger) *Service {
	if ids == nil {
		ids = idgen.New()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{store: s, ids: ids, publisher: publisher, topic: topic, log: log, now: time.Now}
}

// Record stores a payment for req.PNR. Status defaults to success. The payment
// is always attributed to the ticket owner, even when an admin records it.
func (s *Service) Record(ctx context.Context, req models.RecordPaymentRequest) (*models.Payment, error) {
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	status := req.Status
	if status == "" {
		status = models.PaymentSuccess
	}
	if err := validate(req.Amount, mode, status); err != nil {
		return nil, err
	}

	ticket, err := s.store.GetTicket(ctx, req.PNR)
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("%w: load ticket %s: %v", ErrStorageFailure, req.PNR, err)
	}
	if ticket.UserID != req.UserID && req.Role != models.RoleAdmin {
		s.log.LogSecurity("PAYMENT_DENIED", fmt.Sprintf("user %s tried to pay for %s", req.UserID, req.PNR))
		return nil, ErrNotOwner
	}
	if ticket.Status == models.TicketCancelled && status == models.PaymentSuccess {
		return nil, ErrTicketCancelled
	}

	id, err := s.ids.Next(idgen.KindPayment)
	if err != nil {
		return nil, fmt.Errorf("%w: allocate payment id: %v", ErrStorageFailure, err)
	}
	p := &models.Payment{
		PaymentID: id,
		PNR:       ticket.PNR,
		UserID:    ticket.UserID,
		Amount:    req.Amount,
		Mode:      mode,
		Status:    status,
		Reference: strings.TrimSpace(req.Reference),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		if errors.Is(err, store.ErrAlreadyPaid) {
			return nil, ErrAlreadyPaid
		}
		return nil, fmt.Errorf("%w: save payment: %v", ErrStorageFailure, err)
	}
	s.log.LogPayment("RECORDED", p.PNR, fmt.Sprintf("%s %.2f via %s (%s)", p.Status, p.Amount, p.Mode, p.PaymentID))

	s.publish(ctx, p)
	return p, nil
}

func validate(amount float64, mode string, status models.PaymentStatus) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidPayment)
	}
	known := false
	for _, m := range models.PaymentModes {
		if m == mode {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidPayment, mode)
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPayment, status)
	}
	return nil
}

// HandleResult records a payment reported on the results topic. Redelivered
// successes are dropped quietly.
func (s *Service) HandleResult(ctx context.Context, msg models.PaymentResultMessage) error {
	_, err := s.Record(ctx, models.RecordPaymentRequest{
		PNR:       msg.PNR,
		UserID:    msg.UserID,
		Role:      models.RoleAdmin,
		Amount:    msg.Amount,
		Mode:      msg.Mode,
		Status:    msg.Status,
		Reference: msg.Reference,
	})
	if errors.Is(err, ErrAlreadyPaid) {
		s.log.Debug("PAYMENT", fmt.Sprintf("Duplicate payment result for %s ignored", msg.PNR))
		return nil
	}
	return err
}

func (s *Service) ForUser(ctx context.Context, userID string) ([]*models.Payment, error) {
	payments, err := s.store.PaymentsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list payments: %v", ErrStorageFailure, err)
	}
	return payments, nil
}

func (s *Service) publish(ctx context.Context, p *models.Payment) {
	if s.publisher == nil || s.topic == "" {
		return
	}
	event := models.NewReservationEvent(models.EventPaymentRecorded, p.PNR, p.UserID)
	event.Amount = p.Amount
	event.PaymentStatus = p.Status
	if err := s.publisher.Publish(ctx, s.topic, p.PNR, event); err != nil {
		s.log.Warn("PAYMENT", fmt.Sprintf("Kafka publish error (payment recorded) for %s: %v", p.PNR, err))
	}
}
