package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/TGVideoBot/internal/models"
	"github.com/digkill/TGVideoBot/internal/payment"
	"github.com/digkill/TGVideoBot/internal/repository"
	"github.com/digkill/TGVideoBot/internal/service"
)

const defaultListLimit = 100

// Server is the operator API: read-only views over clients, payments and
// generation jobs, coin package management, manual balance adjustments and
// the public card-gateway webhook.
type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger

	clients     *repository.ClientRepository
	paymentsRep *repository.PaymentRepository
	generations *repository.GenerationRepository
	packages    *repository.PackageRepository
	payments    *service.PaymentService
	notify      service.PaymentNotifier

	router *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger,
	clients *repository.ClientRepository, paymentsRep *repository.PaymentRepository,
	generations *repository.GenerationRepository, packages *repository.PackageRepository,
	payments *service.PaymentService, notify service.PaymentNotifier) *Server {

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:        addr,
		username:    username,
		password:    password,
		log:         log,
		clients:     clients,
		paymentsRep: paymentsRep,
		generations: generations,
		packages:    packages,
		payments:    payments,
		notify:      notify,
		router:      r,
	}

	r.Post("/webhook/yookassa", s.handleYooKassaWebhook)
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Get("/clients", s.handleListClients)
		protected.Post("/clients/{id}/balance", s.handleAdjustBalance)
		protected.Get("/payments", s.handleListPayments)
		protected.Get("/generations", s.handleListGenerations)
		protected.Get("/generations/{id}", s.handleGetGeneration)
		protected.Route("/packages", func(r chi.Router) {
			r.Get("/", s.handleListPackages)
			r.Post("/", s.handleCreatePackage)
			r.Put("/{id}", s.handleUpdatePackage)
			r.Delete("/{id}", s.handleDeletePackage)
		})
	})
	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.clients.List(r.Context(), listLimit(r))
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, clients)
}

type adjustBalanceRequest struct {
	Delta int `json:"delta"`
}

// handleAdjustBalance applies a manual correction through the ledger.
// Negative deltas fail with 409 when the client cannot afford them: the
// balance never goes below zero, even for operators.
func (s *Server) handleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req adjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Delta == 0 {
		http.Error(w, "delta required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if req.Delta > 0 {
		if err := s.clients.Credit(ctx, id, req.Delta, repository.ReasonAdminAdjustment); err != nil {
			s.internalError(w, err)
			return
		}
	} else {
		ok, err := s.clients.Debit(ctx, id, -req.Delta, repository.ReasonAdminAdjustment)
		if err != nil {
			s.internalError(w, err)
			return
		}
		if !ok {
			http.Error(w, "insufficient balance", http.StatusConflict)
			return
		}
	}

	balance, err := s.clients.Balance(ctx, id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.log.Info("balance adjusted", "client_id", id, "delta", req.Delta)
	s.writeJSON(w, http.StatusOK, map[string]any{"client_id": id, "balance": balance})
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := s.paymentsRep.List(r.Context(), listLimit(r))
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payments)
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.generations.List(r.Context(), listLimit(r))
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	job, err := s.generations.GetByID(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if job == nil {
		http.Error(w, "generation not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := s.packages.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, packages)
}

type packageRequest struct {
	Coins    int  `json:"coins"`
	IsActive bool `json:"is_active"`
}

func (s *Server) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var req packageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Coins <= 0 {
		http.Error(w, "coins must be positive", http.StatusBadRequest)
		return
	}
	pkg, err := s.packages.Create(r.Context(), &models.CoinPackage{Coins: req.Coins, IsActive: req.IsActive})
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, pkg)
}

func (s *Server) handleUpdatePackage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req packageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Coins <= 0 {
		http.Error(w, "coins must be positive", http.StatusBadRequest)
		return
	}
	existing, err := s.packages.GetByID(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if existing == nil {
		http.Error(w, "package not found", http.StatusNotFound)
		return
	}
	pkg, err := s.packages.Update(r.Context(), &models.CoinPackage{ID: id, Coins: req.Coins, IsActive: req.IsActive})
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pkg)
}

func (s *Server) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.packages.Delete(r.Context(), id); err != nil {
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleYooKassaWebhook is the public endpoint for card-gateway payment
// notifications. The transition goes through the same finalize primitive
// as the check button and the reconciliation poller, so a replayed event
// cannot credit twice.
func (s *Server) handleYooKassaWebhook(w http.ResponseWriter, r *http.Request) {
	var evt struct {
		Event  string `json:"event"`
		Object struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"object"`
	}
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if evt.Object.ID == "" {
		http.Error(w, "missing payment id", http.StatusBadRequest)
		return
	}

	status := payment.MapYooKassaStatus(evt.Object.Status)
	p, transitioned, err := s.payments.ApplyExternalStatus(r.Context(), models.MethodYooKassa, evt.Object.ID, status)
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			// Unknown id: acknowledged so the gateway stops retrying.
			s.log.Error("webhook for unknown payment", "external_id", evt.Object.ID)
			w.WriteHeader(http.StatusOK)
			return
		}
		s.log.Error("yookassa webhook", "external_id", evt.Object.ID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if transitioned && s.notify != nil {
		if p.Status == models.PaymentPaid {
			s.notify.PaymentPaid(*p)
		} else {
			s.notify.PaymentClosed(*p)
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="videobot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "err", err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin request failed", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id: %q", raw)
	}
	return id, nil
}

func listLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return defaultListLimit
}
