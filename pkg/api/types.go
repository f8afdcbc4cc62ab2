package api

// API request and response types for REST endpoints and WebSocket messages.
// Byte fields travel as 0x-prefixed hex.

// ==============================
// REST Request Types
// ==============================

// PlaceOrderRequest is the payload for POST /api/v1/orders. The owner signs
// the EIP-712 PlaceOrder message over the bundle hash of shards, key and
// seal nonce.
type PlaceOrderRequest struct {
	Owner         string   `json:"owner"`
	Shards        []string `json:"shards"`        // 4 × 32-byte ciphertext blocks
	EncryptionKey string   `json:"encryptionKey"` // owner's one-time x25519 public key
	SealNonce     string   `json:"sealNonce"`     // 16 bytes
	Nonce         uint64   `json:"nonce"`         // replay nonce, unique per owner
	Signature     string   `json:"signature"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/{ref}/cancel.
type CancelOrderRequest struct {
	Owner     string `json:"owner"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

// SubmitMatchRequest is the payload for POST /api/v1/matches. A zero
// computationId lets the node pick one.
type SubmitMatchRequest struct {
	ComputationID uint64 `json:"computationId"`
	Maker         string `json:"maker"`
	Taker         string `json:"taker"`
	ResultKey     string `json:"resultKey"` // 32-byte x25519 public key
	Nonce         string `json:"nonce"`     // 16 bytes
}

// ==============================
// REST Response Types
// ==============================

type PlaceOrderResponse struct {
	Status   string `json:"status"`
	OrderRef string `json:"orderRef"`
}

// OrderInfo is an order as stored: ciphertext only.
type OrderInfo struct {
	Ref           string   `json:"ref"`
	Owner         string   `json:"owner"`
	Shards        []string `json:"shards"`
	EncryptionKey string   `json:"encryptionKey"`
	SealNonce     string   `json:"sealNonce"`
	Active        bool     `json:"active"`
	CreatedAt     int64    `json:"createdAt"` // Unix milliseconds
}

type SubmitMatchResponse struct {
	Status        string `json:"status"`
	ComputationID uint64 `json:"computationId"`
}

// JobInfo reports a match job. Payload stays sealed to the result key.
type JobInfo struct {
	ComputationID uint64 `json:"computationId"`
	ClusterID     string `json:"clusterId"`
	Maker         string `json:"maker"`
	Taker         string `json:"taker"`
	State         string `json:"state"`
	Executed      *bool  `json:"executed,omitempty"` // set once completed
	Payload       string `json:"payload,omitempty"`
	Reason        string `json:"reason,omitempty"`
	SubmittedAt   int64  `json:"submittedAt"`
	FinishedAt    int64  `json:"finishedAt,omitempty"`
}

type NodeStatus struct {
	ClusterID   string `json:"clusterId"`
	PendingJobs int    `json:"pendingJobs"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "matches" or "order:0x<ref>"
}

// MatchUpdate is broadcast when a job finishes.
type MatchUpdate struct {
	Type          string `json:"type"` // "match"
	ComputationID uint64 `json:"computationId"`
	Maker         string `json:"maker"`
	Taker         string `json:"taker"`
	Success       bool   `json:"success"`
	Timestamp     int64  `json:"timestamp"` // Unix milliseconds
}
