// Package api exposes a tokens.Ledger over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"example.com/tokenledger/pkg/tokens"
	"example.com/tokenledger/pkg/wallet"
)

// Errors
var (
	ErrBadSignature = errors.New("bad signature")
	ErrStaleNonce   = errors.New("stale nonce")
)

const maxBodyBytes = 1 << 16

// Config holds the dependencies and limits of an API.
type Config struct {
	Ledger  *tokens.Ledger
	Network string
	Logger  *zap.Logger
	// Requests per second and burst for the shared rate limiter. A zero
	// rate disables limiting.
	RatePerSecond float64
	Burst         int
	// Nonces keeps the replay guard. Nil keeps it in memory only, so it
	// resets on restart.
	Nonces NonceStore
}

// NonceStore persists the newest transfer nonce seen per account.
// *journal.Journal implements it.
type NonceStore interface {
	LastNonce(account wallet.Address) (uint64, bool, error)
	SetNonce(account wallet.Address, nonce uint64) error
}

type memoryNonces map[wallet.Address]uint64

func (m memoryNonces) LastNonce(account wallet.Address) (uint64, bool, error) {
	n, ok := m[account]
	return n, ok, nil
}

func (m memoryNonces) SetNonce(account wallet.Address, nonce uint64) error {
	m[account] = nonce
	return nil
}

// API represents the REST API for the ledger
type API struct {
	ledger      *tokens.Ledger
	network     string
	log         *zap.Logger
	rateLimiter *rate.Limiter
	metrics     *metrics
	registry    *prometheus.Registry

	nonceMu sync.Mutex
	nonces  NonceStore
}

// NewAPI initializes a new API instance
func NewAPI(cfg Config) *API {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	nonces := cfg.Nonces
	if nonces == nil {
		nonces = memoryNonces{}
	}

	reg := prometheus.NewRegistry()
	return &API{
		ledger:      cfg.Ledger,
		network:     cfg.Network,
		log:         log,
		rateLimiter: rate.NewLimiter(limit, burst),
		metrics:     newMetrics(reg, cfg.Ledger),
		registry:    reg,
		nonces:      nonces,
	}
}

// Handler returns the routed API with its middleware chain applied.
func (api *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", api.Healthz)
	mux.HandleFunc("/token", api.chain(api.GetToken))
	mux.HandleFunc("/supply", api.chain(api.GetSupply))
	mux.HandleFunc("/balance", api.chain(api.GetBalance))
	mux.HandleFunc("/transfers", api.chain(api.GetTransfers))
	mux.HandleFunc("/transfer", api.chain(api.PostTransfer))
	mux.Handle("/metrics", promhttp.HandlerFor(api.registry, promhttp.HandlerOpts{}))
	return api.RequestID(api.Logger(mux))
}

// routes are the metric labels for request paths; anything else is "other".
var routes = map[string]bool{
	"/healthz":   true,
	"/token":     true,
	"/supply":    true,
	"/balance":   true,
	"/transfers": true,
	"/transfer":  true,
	"/metrics":   true,
}

func routeLabel(path string) string {
	if routes[path] {
		return path
	}
	return "other"
}

func (api *API) chain(next http.HandlerFunc) http.HandlerFunc {
	return api.CORS(api.RateLimit(api.Recover(next)))
}

// writeJSONResponse writes the Response envelope.
func (api *API) writeJSONResponse(w http.ResponseWriter, status int, message, code string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := Response{
		Status:  http.StatusText(status),
		Message: message,
		Code:    code,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		api.log.Warn("failed to write response", zap.Error(err))
	}
}

// --- Middleware ---

// RequestID tags every request with an X-Request-ID, reusing the caller's.
func (api *API) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Logger logs each request once it has been served.
func (api *API) Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		api.metrics.requests.WithLabelValues(routeLabel(r.URL.Path), strconv.Itoa(rec.status)).Inc()
		api.log.Debug("request",
			zap.String("id", r.Header.Get("X-Request-ID")),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

// CORS handles cross-origin resource sharing
func (api *API) CORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// RateLimit limits the rate of requests
func (api *API) RateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !api.rateLimiter.Allow() {
			w.Header().Set("Retry-After", "1")
			api.writeJSONResponse(w, http.StatusTooManyRequests, "Too many requests", CodeRateLimited, nil)
			return
		}
		next(w, r)
	}
}

// Recover turns a handler panic into a 500.
func (api *API) Recover(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				api.log.Error("handler panic", zap.Any("panic", v), zap.String("path", r.URL.Path))
				api.writeJSONResponse(w, http.StatusInternalServerError, "Internal error", "", nil)
			}
		}()
		next(w, r)
	}
}

// --- Handlers ---

// Healthz reports liveness.
func (api *API) Healthz(w http.ResponseWriter, r *http.Request) {
	api.writeJSONResponse(w, http.StatusOK, "ok", "", map[string]string{
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetToken returns the ledger metadata and network identifier.
func (api *API) GetToken(w http.ResponseWriter, r *http.Request) {
	if !api.allowMethod(w, r, http.MethodGet) {
		return
	}
	api.writeJSONResponse(w, http.StatusOK, "Success", "", TokenInfo{
		Metadata: api.ledger.Metadata(),
		Network:  api.network,
	})
}

// GetSupply returns the fixed total supply.
func (api *API) GetSupply(w http.ResponseWriter, r *http.Request) {
	if !api.allowMethod(w, r, http.MethodGet) {
		return
	}
	api.writeJSONResponse(w, http.StatusOK, "Success", "", Supply{TotalSupply: api.ledger.TotalSupply()})
}

// GetBalance retrieves the balance of an address
func (api *API) GetBalance(w http.ResponseWriter, r *http.Request) {
	if !api.allowMethod(w, r, http.MethodGet) {
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("address"))
	if raw == "" {
		api.writeJSONResponse(w, http.StatusBadRequest, "Missing address", CodeBadRequest, nil)
		return
	}
	addr, err := wallet.ParseAddress(raw)
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), CodeBadRequest, nil)
		return
	}

	api.writeJSONResponse(w, http.StatusOK, "Success", "", Balance{
		Address: addr,
		Balance: api.ledger.BalanceOf(addr),
	})
}

// GetTransfers returns the notification records after ?since=.
func (api *API) GetTransfers(w http.ResponseWriter, r *http.Request) {
	if !api.allowMethod(w, r, http.MethodGet) {
		return
	}
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		var err error
		since, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			api.writeJSONResponse(w, http.StatusBadRequest, "Invalid since", CodeBadRequest, nil)
			return
		}
	}

	recs := api.ledger.Transfers(since)
	if recs == nil {
		recs = []tokens.Transfer{}
	}
	api.writeJSONResponse(w, http.StatusOK, "Success", "", Transfers{Since: since, Transfers: recs})
}

// PostTransfer executes a signed transfer on behalf of the signer.
func (api *API) PostTransfer(w http.ResponseWriter, r *http.Request) {
	if !api.allowMethod(w, r, http.MethodPost) {
		return
	}

	var req TransferRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, "Invalid input data", CodeBadRequest, nil)
		return
	}

	caller, err := req.Caller(api.network)
	if err != nil {
		api.writeJSONResponse(w, http.StatusUnauthorized, err.Error(), CodeBadSignature, nil)
		return
	}
	if err := api.useNonce(caller, req.Nonce); err != nil {
		if errors.Is(err, ErrStaleNonce) {
			api.writeJSONResponse(w, http.StatusConflict, err.Error(), CodeStaleNonce, nil)
			return
		}
		api.log.Error("nonce store failed", zap.Stringer("caller", caller), zap.Error(err))
		api.writeJSONResponse(w, http.StatusInternalServerError, "Transfer failed", "", nil)
		return
	}

	rec, err := api.ledger.Transfer(caller, req.To, req.Amount)
	switch {
	case errors.Is(err, tokens.ErrInsufficientBalance):
		api.metrics.transfers.WithLabelValues("insufficient_balance").Inc()
		api.writeJSONResponse(w, http.StatusUnprocessableEntity, err.Error(), CodeInsufficientBalance, nil)
		return
	case errors.Is(err, tokens.ErrInvalidRecipient):
		api.metrics.transfers.WithLabelValues("invalid_recipient").Inc()
		api.writeJSONResponse(w, http.StatusUnprocessableEntity, err.Error(), CodeInvalidRecipient, nil)
		return
	case err != nil:
		api.log.Error("transfer failed", zap.Error(err))
		api.writeJSONResponse(w, http.StatusInternalServerError, "Transfer failed", "", nil)
		return
	}

	api.metrics.transfers.WithLabelValues("ok").Inc()
	api.log.Info("transfer committed",
		zap.Uint64("seq", rec.Seq),
		zap.Stringer("from", rec.From),
		zap.Stringer("to", rec.To),
		zap.Uint64("amount", rec.Amount))
	api.writeJSONResponse(w, http.StatusOK, "Transfer committed", "", rec)
}

func (api *API) allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	api.writeJSONResponse(w, http.StatusMethodNotAllowed, "Invalid request method", CodeBadRequest, nil)
	return false
}

// useNonce consumes nonce for caller. Nonces must strictly increase per
// account so a signed request cannot be replayed.
func (api *API) useNonce(caller wallet.Address, nonce uint64) error {
	api.nonceMu.Lock()
	defer api.nonceMu.Unlock()

	last, seen, err := api.nonces.LastNonce(caller)
	if err != nil {
		return err
	}
	if seen && nonce <= last {
		return ErrStaleNonce
	}
	return api.nonces.SetNonce(caller, nonce)
}
