package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/arcdark/pkg/app/darkpool"
	"github.com/uhyunpark/arcdark/pkg/crypto"
)

// Server handles REST API and WebSocket connections
type Server struct {
	svc     *darkpool.Service
	eip712  *crypto.EIP712Signer
	router  *mux.Router
	hub     *Hub
	metrics http.Handler
	log     *zap.SugaredLogger
	cluster string

	// used request nonces per owner
	nonceMu sync.Mutex
	nonces  map[common.Address]map[uint64]struct{}
}

// NewServer creates a new API server. hub is normally also one of the
// service's event sinks. metrics may be nil.
func NewServer(svc *darkpool.Service, hub *Hub, domain crypto.EIP712Domain, clusterID string, metrics http.Handler, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	s := &Server{
		svc:     svc,
		eip712:  crypto.NewEIP712Signer(domain),
		router:  mux.NewRouter(),
		hub:     hub,
		metrics: metrics,
		log:     log,
		cluster: clusterID,
		nonces:  make(map[common.Address]map[uint64]struct{}),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Orders
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/{ref}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{ref}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOrders).Methods("GET")

	// Matches
	api.HandleFunc("/matches", s.handleSubmitMatch).Methods("POST")
	api.HandleFunc("/matches/pending", s.handlePendingMatches).Methods("GET")
	api.HandleFunc("/matches/{id:[0-9]+}", s.handleGetMatch).Methods("GET")

	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the hub and serves until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Infow("api_server_listening", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Owner) {
		respondError(w, http.StatusBadRequest, "invalid owner", "")
		return
	}
	owner := common.HexToAddress(req.Owner)

	shards := make([][]byte, len(req.Shards))
	for i, h := range req.Shards {
		b, err := decodeHex(h)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid shard", fmt.Sprintf("shard %d: %v", i, err))
			return
		}
		shards[i] = b
	}
	var env darkpool.Envelope
	if err := decodeFixed(req.EncryptionKey, env.EncryptionKey[:]); err != nil {
		respondError(w, http.StatusBadRequest, "invalid encryptionKey", err.Error())
		return
	}
	if err := decodeFixed(req.SealNonce, env.Nonce[:]); err != nil {
		respondError(w, http.StatusBadRequest, "invalid sealNonce", err.Error())
		return
	}
	sig, err := decodeHex(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature", err.Error())
		return
	}

	ok, err := s.eip712.VerifyPlaceOrder(&crypto.PlaceOrderEIP712{
		Owner:      owner,
		BundleHash: crypto.BundleHash(shards, env.EncryptionKey, env.Nonce),
		Nonce:      new(big.Int).SetUint64(req.Nonce),
	}, sig)
	if err != nil || !ok {
		respondError(w, http.StatusUnauthorized, "signature does not match owner", "")
		return
	}
	if !s.useNonce(owner, req.Nonce) {
		respondError(w, http.StatusConflict, "nonce already used", strconv.FormatUint(req.Nonce, 10))
		return
	}

	ref, err := s.svc.PlaceOrder(r.Context(), owner, shards, env)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, PlaceOrderResponse{Status: "placed", OrderRef: ref.Hex()})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	ref, err := darkpool.ParseOrderRef(mux.Vars(r)["ref"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order ref", err.Error())
		return
	}
	o, err := s.svc.GetOrder(r.Context(), ref)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	orders, err := s.svc.ListOrders(r.Context(), common.HexToAddress(addressStr))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = orderInfo(o)
	}
	respondJSON(w, out)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	ref, err := darkpool.ParseOrderRef(mux.Vars(r)["ref"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order ref", err.Error())
		return
	}
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	sig, err := decodeHex(req.Signature)
	if err != nil || !common.IsHexAddress(req.Owner) {
		respondError(w, http.StatusBadRequest, "invalid owner or signature", "")
		return
	}
	owner := common.HexToAddress(req.Owner)

	o, err := s.svc.GetOrder(r.Context(), ref)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if o.Owner != owner {
		respondError(w, http.StatusForbidden, "not the order owner", "")
		return
	}
	ok, err := s.eip712.VerifyCancelOrder(&crypto.CancelOrderEIP712{
		Owner:    owner,
		OrderRef: common.Hash(ref),
		Nonce:    new(big.Int).SetUint64(req.Nonce),
	}, sig)
	if err != nil || !ok {
		respondError(w, http.StatusUnauthorized, "signature does not match owner", "")
		return
	}
	if !s.useNonce(owner, req.Nonce) {
		respondError(w, http.StatusConflict, "nonce already used", strconv.FormatUint(req.Nonce, 10))
		return
	}

	if err := s.svc.Deactivate(r.Context(), ref); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "cancelled", "orderRef": ref.Hex()})
}

func (s *Server) handleSubmitMatch(w http.ResponseWriter, r *http.Request) {
	var req SubmitMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	sreq := darkpool.SubmitRequest{ComputationID: req.ComputationID}
	var err error
	if sreq.MakerRef, err = darkpool.ParseOrderRef(req.Maker); err != nil {
		respondError(w, http.StatusBadRequest, "invalid maker", err.Error())
		return
	}
	if sreq.TakerRef, err = darkpool.ParseOrderRef(req.Taker); err != nil {
		respondError(w, http.StatusBadRequest, "invalid taker", err.Error())
		return
	}
	if err := decodeFixed(req.ResultKey, sreq.ResultKey[:]); err != nil {
		respondError(w, http.StatusBadRequest, "invalid resultKey", err.Error())
		return
	}
	if err := decodeFixed(req.Nonce, sreq.Nonce[:]); err != nil {
		respondError(w, http.StatusBadRequest, "invalid nonce", err.Error())
		return
	}

	id, err := s.svc.SubmitMatch(r.Context(), sreq)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSONStatus(w, http.StatusAccepted, SubmitMatchResponse{Status: "executing", ComputationID: id})
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid computation id", err.Error())
		return
	}
	job, err := s.svc.GetJob(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, jobInfo(job))
}

func (s *Server) handlePendingMatches(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.svc.PendingJobs(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	out := make([]JobInfo, len(jobs))
	for i, j := range jobs {
		out[i] = jobInfo(j)
	}
	respondJSON(w, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.svc.PendingJobs(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, NodeStatus{ClusterID: s.cluster, PendingJobs: len(jobs)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// useNonce records nonce for owner and reports whether it was fresh.
func (s *Server) useNonce(owner common.Address, nonce uint64) bool {
	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()
	used := s.nonces[owner]
	if used == nil {
		used = make(map[uint64]struct{})
		s.nonces[owner] = used
	}
	if _, ok := used[nonce]; ok {
		return false
	}
	used[nonce] = struct{}{}
	return true
}

// ==============================
// Helper Functions
// ==============================

func orderInfo(o *darkpool.EncryptedOrder) OrderInfo {
	shards := make([]string, len(o.Shards))
	for i := range o.Shards {
		shards[i] = encodeHex(o.Shards[i][:])
	}
	return OrderInfo{
		Ref:           o.Ref.Hex(),
		Owner:         o.Owner.Hex(),
		Shards:        shards,
		EncryptionKey: encodeHex(o.Envelope.EncryptionKey[:]),
		SealNonce:     encodeHex(o.Envelope.Nonce[:]),
		Active:        o.IsActive,
		CreatedAt:     o.CreatedAt.UnixMilli(),
	}
}

func jobInfo(j *darkpool.MatchJob) JobInfo {
	info := JobInfo{
		ComputationID: j.ComputationID,
		ClusterID:     j.ClusterID,
		Maker:         j.MakerRef.Hex(),
		Taker:         j.TakerRef.Hex(),
		State:         j.State.String(),
		Reason:        j.Reason,
		SubmittedAt:   j.SubmittedAt.UnixMilli(),
	}
	if j.State.Terminal() {
		info.FinishedAt = j.FinishedAt.UnixMilli()
	}
	if j.State == darkpool.JobCompleted {
		executed := j.Executed
		info.Executed = &executed
		info.Payload = encodeHex(j.Payload)
	}
	return info
}

func encodeHex(b []byte) string { return "0x" + hex.EncodeToString(b) }

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func decodeFixed(s string, dst []byte) error {
	b, err := decodeHex(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("want %d bytes, got %d", len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, darkpool.ErrInvalidShardCount), errors.Is(err, darkpool.ErrSelfMatch):
		return http.StatusBadRequest
	case errors.Is(err, darkpool.ErrOrderNotFound), errors.Is(err, darkpool.ErrUnknownComputation):
		return http.StatusNotFound
	case errors.Is(err, darkpool.ErrInactiveOrder), errors.Is(err, darkpool.ErrOrderReserved),
		errors.Is(err, darkpool.ErrDuplicateComputation):
		return http.StatusConflict
	case errors.Is(err, darkpool.ErrClusterRejected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	respondError(w, status, http.StatusText(status), err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
