package common

import "strings"

// Scope is the V-model layer a node belongs to.
type Scope string

const (
	ScopeCustomer     Scope = "customer"
	ScopePlatform     Scope = "platform"
	ScopeSystem       Scope = "system"
	ScopeArchitecture Scope = "architecture"
	ScopeCode         Scope = "code"
	ScopeTest         Scope = "test"
)

// ParseScope maps a stored scope string onto a known Scope. The short form
// "arch" used by older imports is accepted for architecture. The second return
// value is false for anything outside the six known layers.
func ParseScope(s string) (Scope, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "customer":
		return ScopeCustomer, true
	case "platform":
		return ScopePlatform, true
	case "system":
		return ScopeSystem, true
	case "architecture", "arch":
		return ScopeArchitecture, true
	case "code":
		return ScopeCode, true
	case "test":
		return ScopeTest, true
	}
	return Scope(s), false
}

// Node is an artifact in the traceability graph. Nodes are created by the
// importers and are read-only to matching and tracing.
//
// ReqID is the externally meaningful requirement id. The store does not
// enforce its uniqueness; lookups by ReqID pick a single row.
type Node struct {
	ID      string `json:"id"`
	Scope   Scope  `json:"scope"`
	Type    string `json:"type"`
	ReqID   string `json:"req_id"`
	Content string `json:"content"`
}

// Link is a directed edge between two nodes. The link graph may contain cycles.
type Link struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Type     string `json:"type"`
}

// EmbeddingModel identifies one embedding-generation configuration. Embeddings
// and matches are always scoped to a model id.
type EmbeddingModel struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Dims     int    `json:"dims"`
	Provider string `json:"provider"`
}

// Embedding is the vector of one node under one model. Vectors are L2
// normalized before they are stored, so cosine similarity is a dot product.
type Embedding struct {
	NodeID      string    `json:"node_id"`
	ReqID       string    `json:"req_id"`
	ModelID     int64     `json:"model_id"`
	ContentHash string    `json:"content_hash"`
	Vector      []float32 `json:"-"`
}

// EmbeddingCandidate is a node that may need a (new) embedding together with
// the hash of the content that was embedded last time, if any.
type EmbeddingCandidate struct {
	Node         Node
	ExistingHash string
}
