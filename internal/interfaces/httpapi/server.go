package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"txqueue/internal/application"
	"txqueue/internal/domain"
	"txqueue/internal/provider"
	"txqueue/internal/txqueue"
)

// QueueControl is the operator's handle on the transaction queue.
type QueueControl interface {
	Snapshot() txqueue.State
	StopYield() error
	Resume() error
	Retry() error
	Reset()
}

// Rewatcher restarts confirmation tracking for the current parcel.
type Rewatcher interface {
	Rewatch() error
}

// Chain is the read side of the provider client.
type Chain interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	GetBalance(ctx context.Context, address string) (string, error)
	GetTransactionByHash(ctx context.Context, hash string, raceAll bool) (*domain.TxResponse, error)
	GetTransactionReceipt(ctx context.Context, hash string) (*domain.Receipt, error)
	GetBlockByNumber(ctx context.Context, number uint64) (*domain.Block, error)
	GetBlockByHash(ctx context.Context, hash string) (*domain.Block, error)
}

type ReceiptStore interface {
	QueryReceipts(ctx context.Context, filter application.ReceiptQueryFilter) ([]domain.PendingReceipt, error)
	Ping(ctx context.Context) error
}

type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

type Deps struct {
	Chain   Chain
	Queue   QueueControl
	Watcher Rewatcher
	Store   ReceiptStore
	Metrics *Metrics
}

type Server struct {
	chain     Chain
	queue     QueueControl
	watcher   Rewatcher
	store     ReceiptStore
	metrics   *Metrics
	buildInfo BuildInfo
}

// NewServer needs a chain; queue, watcher and store are optional and
// their routes answer 404 when absent.
func NewServer(deps Deps, buildInfo BuildInfo) (*Server, error) {
	if deps.Chain == nil {
		return nil, errors.New("http server needs a chain client")
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Server{
		chain:     deps.Chain,
		queue:     deps.Queue,
		watcher:   deps.Watcher,
		store:     deps.Store,
		metrics:   metrics,
		buildInfo: buildInfo,
	}, nil
}

func (s *Server) MetricsObserver() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET /healthz", s.handleHealth},
		{"GET /readyz", s.handleReady},
		{"GET /queue", s.handleQueue},
		{"POST /queue/yield", s.handleYield},
		{"POST /queue/resume", s.handleResume},
		{"POST /queue/retry", s.handleRetry},
		{"POST /queue/reset", s.handleReset},
		{"POST /queue/rewatch", s.handleRewatch},
		{"GET /tx", s.handleTransaction},
		{"GET /receipt", s.handleReceipt},
		{"GET /receipts", s.handleReceipts},
		{"GET /balance", s.handleBalance},
		{"GET /block", s.handleBlock},
		{"GET /version", s.handleVersion},
	}
	for _, route := range routes {
		path := route.pattern[strings.IndexByte(route.pattern, ' ')+1:]
		mux.HandleFunc(route.pattern, s.metrics.instrument(path, route.handler))
	}
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "db not ready")
			return
		}
	}
	block, err := s.chain.LatestBlockNumber(ctx)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "rpc not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready", "block": block})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		respondError(w, http.StatusNotFound, "no queue")
		return
	}
	respondJSON(w, http.StatusOK, s.queue.Snapshot())
}

func (s *Server) handleYield(w http.ResponseWriter, r *http.Request) {
	s.queueAction(w, func(q QueueControl) error { return q.StopYield() })
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.queueAction(w, func(q QueueControl) error { return q.Resume() })
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.queueAction(w, func(q QueueControl) error { return q.Retry() })
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.queueAction(w, func(q QueueControl) error {
		q.Reset()
		return nil
	})
}

func (s *Server) handleRewatch(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		respondError(w, http.StatusNotFound, "no coordinator")
		return
	}
	s.queueAction(w, func(QueueControl) error { return s.watcher.Rewatch() })
}

func (s *Server) queueAction(w http.ResponseWriter, action func(QueueControl) error) {
	if s.queue == nil {
		respondError(w, http.StatusNotFound, "no queue")
		return
	}
	if err := action(s.queue); err != nil {
		if errors.Is(err, txqueue.ErrInvalidTransition) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.queue.Snapshot())
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	hash, ok := requireHash(w, r)
	if !ok {
		return
	}
	race, _ := strconv.ParseBool(r.URL.Query().Get("race"))
	tx, err := s.chain.GetTransactionByHash(r.Context(), hash, race)
	if err != nil {
		respondProviderError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	hash, ok := requireHash(w, r)
	if !ok {
		return
	}
	receipt, err := s.chain.GetTransactionReceipt(r.Context(), hash)
	if err != nil {
		respondProviderError(w, err)
		return
	}
	if receipt == nil {
		respondError(w, http.StatusNotFound, "receipt not found")
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotFound, "no receipt store")
		return
	}
	filter, err := parseReceiptFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipts, err := s.store.QueryReceipts(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, receipts)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		respondError(w, http.StatusBadRequest, "address is required")
		return
	}
	balance, err := s.chain.GetBalance(r.Context(), address)
	if err != nil {
		respondProviderError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"address": strings.ToLower(address), "balance": balance})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var (
		block *domain.Block
		err   error
	)
	switch {
	case query.Get("hash") != "":
		block, err = s.chain.GetBlockByHash(r.Context(), query.Get("hash"))
	case query.Get("number") != "":
		number, perr := strconv.ParseUint(query.Get("number"), 10, 64)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "invalid number")
			return
		}
		block, err = s.chain.GetBlockByNumber(r.Context(), number)
	default:
		var latest uint64
		latest, err = s.chain.LatestBlockNumber(r.Context())
		if err == nil {
			respondJSON(w, http.StatusOK, map[string]uint64{"number": latest})
			return
		}
	}
	if err != nil {
		respondProviderError(w, err)
		return
	}
	if block == nil {
		respondError(w, http.StatusNotFound, "block not found")
		return
	}
	respondJSON(w, http.StatusOK, block)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

func requireHash(w http.ResponseWriter, r *http.Request) (string, bool) {
	hash := strings.TrimSpace(r.URL.Query().Get("hash"))
	if hash == "" {
		respondError(w, http.StatusBadRequest, "hash is required")
		return "", false
	}
	return hash, true
}

func parseReceiptFilter(r *http.Request) (application.ReceiptQueryFilter, error) {
	query := r.URL.Query()
	limit, err := parseLimit(r)
	if err != nil {
		return application.ReceiptQueryFilter{}, err
	}
	filter := application.ReceiptQueryFilter{
		Account: strings.ToLower(query.Get("account")),
		TxHash:  strings.ToLower(query.Get("tx")),
		Limit:   limit,
	}
	if raw := query.Get("chain_id"); raw != "" {
		chainID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return application.ReceiptQueryFilter{}, errors.New("invalid chain_id")
		}
		filter.ChainID = &chainID
	}
	switch status := domain.ReceiptStatus(query.Get("status")); status {
	case "", domain.ReceiptPending, domain.ReceiptSuccess, domain.ReceiptFailed:
		filter.Status = status
	default:
		return application.ReceiptQueryFilter{}, errors.New("invalid status")
	}
	return filter, nil
}

func parseLimit(r *http.Request) (int, error) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return 0, errors.New("invalid limit")
		}
		return value, nil
	}
	return 100, nil
}

// respondProviderError maps the provider taxonomy onto HTTP status codes.
func respondProviderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, provider.ErrTransactionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, provider.ErrDecode):
		respondError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, provider.ErrProviderUnavailable), errors.Is(err, provider.ErrEndpointUnreachable):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
