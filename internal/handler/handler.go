package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Dan9191/ledger-service/internal/middleware"
	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/Dan9191/ledger-service/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	maxBodySize    = 1 << 20
	maxReceiptSize = 6 << 20
)

// Result is the envelope of every response
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// Handler serves the HTTP API on top of the service
type Handler struct {
	svc *service.Service
	log *logrus.Logger
}

// NewHandler creates a new handler
func NewHandler(svc *service.Service, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// RegisterRoutes wires every endpoint into r. Everything except
// registration and login goes through auth.
func (h *Handler) RegisterRoutes(r *mux.Router, auth mux.MiddlewareFunc) {
	// Public routes
	r.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)

	// Protected routes
	api := r.PathPrefix("/").Subrouter()
	api.Use(auth)
	api.HandleFunc("/accounts", h.ListAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts", h.CreateAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}", h.GetAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}", h.DeleteAccount).Methods(http.MethodDelete)
	api.HandleFunc("/accounts/{id}/default", h.SetDefaultAccount).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{id}/balance", h.UpdateBalance).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{id}/chart", h.AccountChart).Methods(http.MethodGet)
	api.HandleFunc("/transactions", h.ListTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions", h.CreateTransaction).Methods(http.MethodPost)
	api.HandleFunc("/transactions/bulk-delete", h.BulkDeleteTransactions).Methods(http.MethodPost)
	api.HandleFunc("/transactions/scan", h.ScanReceipt).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}", h.UpdateTransaction).Methods(http.MethodPut)
	api.HandleFunc("/transactions/{id}", h.DeleteTransaction).Methods(http.MethodDelete)
	api.HandleFunc("/budget", h.GetBudget).Methods(http.MethodGet)
	api.HandleFunc("/budget", h.UpdateBudget).Methods(http.MethodPut)
	api.HandleFunc("/reports/categories", h.CategoryReport).Methods(http.MethodGet)
}

type credentials struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !h.decode(w, r, &in) {
		return
	}
	user, err := h.svc.Register(r.Context(), in.Username, in.Email, in.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, user)
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !h.decode(w, r, &in) {
		return
	}
	token, err := h.svc.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]string{"token": token})
}

// ListAccounts returns the caller's accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.ListAccounts(r.Context(), owner(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, nonNil(accounts))
}

// CreateAccount handles account creation
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var in service.AccountInput
	if !h.decode(w, r, &in) {
		return
	}
	account, err := h.svc.CreateAccount(r.Context(), owner(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, account)
}

// GetAccount returns an account with its transactions
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetAccountWithTransactions(r.Context(), owner(r), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	detail.Transactions = nonNil(detail.Transactions)
	h.respond(w, http.StatusOK, detail)
}

// DeleteAccount removes an account and its transactions
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAccount(r.Context(), owner(r), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, nil)
}

// SetDefaultAccount makes an account the caller's default
func (h *Handler) SetDefaultAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.SetDefaultAccount(r.Context(), owner(r), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, account)
}

// UpdateBalance overrides an account balance
func (h *Handler) UpdateBalance(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Balance string `json:"balance"`
	}
	if !h.decode(w, r, &in) {
		return
	}
	account, err := h.svc.UpdateBalance(r.Context(), owner(r), mux.Vars(r)["id"], in.Balance)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, account)
}

// AccountChart returns the daily income/expense series of an account
func (h *Handler) AccountChart(w http.ResponseWriter, r *http.Request) {
	chart, err := h.svc.AccountChart(r.Context(), owner(r), mux.Vars(r)["id"], r.URL.Query().Get("range"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	chart.Points = nonNil(chart.Points)
	h.respond(w, http.StatusOK, chart)
}

// ListTransactions returns the caller's transactions matching the query filters
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.TransactionFilter{
		AccountID: q.Get("account_id"),
		Type:      models.TransactionType(strings.ToUpper(q.Get("type"))),
		Search:    q.Get("search"),
	}
	if v := q.Get("recurring"); v != "" {
		recurring, err := strconv.ParseBool(v)
		if err != nil {
			h.fail(w, r, fmt.Errorf("invalid recurring flag %q: %w", v, models.ErrInvalidInput))
			return
		}
		filter.Recurring = &recurring
	}
	var err error
	if filter.From, err = h.optionalDate(q.Get("from")); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.To, err = h.optionalDate(q.Get("to")); err != nil {
		h.fail(w, r, err)
		return
	}

	txs, err := h.svc.ListTransactions(r.Context(), owner(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, nonNil(txs))
}

// CreateTransaction records a transaction
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var in service.TransactionInput
	if !h.decode(w, r, &in) {
		return
	}
	tx, err := h.svc.CreateTransaction(r.Context(), owner(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, tx)
}

// UpdateTransaction rewrites a transaction
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var in service.TransactionInput
	if !h.decode(w, r, &in) {
		return
	}
	tx, err := h.svc.UpdateTransaction(r.Context(), owner(r), mux.Vars(r)["id"], in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, tx)
}

// DeleteTransaction removes one transaction
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTransaction(r.Context(), owner(r), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, nil)
}

// BulkDeleteTransactions removes a set of transactions
func (h *Handler) BulkDeleteTransactions(w http.ResponseWriter, r *http.Request) {
	var in struct {
		IDs []string `json:"ids"`
	}
	if !h.decode(w, r, &in) {
		return
	}
	res, err := h.svc.BulkDeleteTransactions(r.Context(), owner(r), in.IDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, res)
}

// ScanReceipt turns an uploaded receipt image into transaction form defaults.
// The image is the "receipt" field of a multipart form.
func (h *Handler) ScanReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxReceiptSize)
	file, header, err := r.FormFile("receipt")
	if err != nil {
		h.fail(w, r, fmt.Errorf("receipt image is required: %w", models.ErrInvalidInput))
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		h.fail(w, r, fmt.Errorf("failed to read receipt: %w", models.ErrInvalidInput))
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(image)
	}

	draft, err := h.svc.ScanReceipt(r.Context(), owner(r), image, contentType)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, draft)
}

// GetBudget returns the caller's budget and its consumption this month
func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.GetCurrentBudget(r.Context(), owner(r), r.URL.Query().Get("account_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, status)
}

// UpdateBudget sets the caller's monthly budget
func (h *Handler) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount string `json:"amount"`
	}
	if !h.decode(w, r, &in) {
		return
	}
	budget, err := h.svc.UpdateBudget(r.Context(), owner(r), in.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, budget)
}

// CategoryReport sums expenses per category over an optional [from, to) window
func (h *Handler) CategoryReport(w http.ResponseWriter, r *http.Request) {
	from, err := h.optionalDate(r.URL.Query().Get("from"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := h.optionalDate(r.URL.Query().Get("to"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	totals, err := h.svc.CategoryReport(r.Context(), owner(r), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, nonNil(totals))
}

func owner(r *http.Request) string {
	return middleware.OwnerFromContext(r.Context())
}

func (h *Handler) optionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return service.ParseDate(s, h.svc.Location())
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.fail(w, r, fmt.Errorf("invalid request body: %v: %w", err, models.ErrInvalidInput))
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, status int, data any) {
	h.write(w, status, Result{Success: true, Data: data})
}

// fail maps the error taxonomy onto HTTP. An empty selection is a soft
// failure: the request was well formed but matched nothing.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := models.KindOf(err)
	status := statusOf(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Errorf("Request failed: %v", err)
		msg = "internal error"
	}
	h.write(w, status, Result{Success: false, Error: msg, Kind: kind})
}

func statusOf(kind string) int {
	switch kind {
	case "Unauthorized":
		return http.StatusUnauthorized
	case "NotFound":
		return http.StatusNotFound
	case "Conflict":
		return http.StatusConflict
	case "InvalidInput":
		return http.StatusBadRequest
	case "EmptySelection":
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

func (h *Handler) write(w http.ResponseWriter, status int, res Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		h.log.Errorf("Failed to write response: %v", err)
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
