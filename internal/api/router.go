package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"ms-railway/internal/auth"
	"ms-railway/internal/logger"
)

type RouterConfig struct {
	CORSAllowedOrigins []string
	// RateLimitRequests per RateLimitWindow per client IP; zero disables the limit.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter mounts every route. Everything under /api requires a bearer token
// except search and availability.
func NewRouter(h *Handler, verifier auth.TokenVerifier, cfg RouterConfig) http.Handler {
	if h.Logger == nil {
		h.Logger = logger.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(h.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	}))
	if cfg.RateLimitRequests > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/trains/search", h.SearchTrains)
		r.Get("/trains/{trainNo}/classes/{classId}/availability", h.Availability)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(verifier, h.Logger))

			r.Post("/bookings", h.CreateBooking)

			r.Route("/tickets", func(r chi.Router) {
				r.Get("/", h.ListTickets)
				r.Post("/verify", h.VerifyQR)
				r.Get("/{pnr}", h.GetTicket)
				r.Get("/{pnr}/qr", h.TicketQR)
				r.Post("/{pnr}/cancel", h.CancelTicket)
				r.Post("/{pnr}/payments", h.RecordPayment)
			})

			r.Get("/payments", h.ListPayments)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/reconciliations", h.ListReconciliations)
				r.Post("/reconciliations/{id}/resolve", h.ResolveReconciliation)
				r.Get("/ledger/{trainNo}/{classId}", h.AuditLedger)
			})
		})
	})

	h.Logger.Info("ROUTER", "Routes registered under /api")
	return r
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.LogAPI(r.Method, r.URL.Path, strconv.Itoa(status), fmt.Sprint(time.Since(start).Round(time.Microsecond)))
		})
	}
}
