package domain

import "time"

const (
	// AuditGlobalChainID is the reserved chain identifier used when the
	// ledger runs with a single global chain.
	AuditGlobalChainID = "__global__"
	AuditChainVersion  = "audit_chain_v1"

	// AuditGenesisHash is the previous-hash value of the first event in a chain.
	AuditGenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"
)

type ChainScope string

const (
	ChainScopeGlobal    ChainScope = "global"
	ChainScopePerTenant ChainScope = "per-tenant"
)

// ChainID resolves the logical chain an event belongs to. The scope is fixed
// by configuration; verification walks the same resolution.
func (s ChainScope) ChainID(tenantID string) string {
	if s == ChainScopePerTenant && tenantID != "" {
		return tenantID
	}
	return AuditGlobalChainID
}

type AuditEventType string

const (
	AuditEventSignatureInitiated   AuditEventType = "signature.initiated"
	AuditEventSignatureCreated     AuditEventType = "signature.created"
	AuditEventSignatureInvalidated AuditEventType = "signature.invalidated"
	AuditEventChainExported        AuditEventType = "audit.chain_exported"
)

func (t AuditEventType) Valid() bool {
	switch t {
	case AuditEventSignatureInitiated, AuditEventSignatureCreated,
		AuditEventSignatureInvalidated, AuditEventChainExported:
		return true
	}
	return false
}

type AuditActor struct {
	ID        string
	Email     string
	IP        string
	UserAgent string
}

type AuditResource struct {
	Type string
	ID   string
	Name string
}

// AuditEvent is immutable once appended. EventHash covers every other field
// (the free-form Details map indirectly, through DetailsHash) plus
// PrevEventHash, so retroactive edits break the chain.
type AuditEvent struct {
	ID            string
	ChainID       string
	Seq           int64
	EventType     AuditEventType
	Actor         AuditActor
	Resource      AuditResource
	Details       any
	DetailsHash   string
	PrevEventHash string
	EventHash     string
	CreatedAt     time.Time
}

// ChainBreak pinpoints the first event at which verification failed.
type ChainBreak struct {
	EventID string
	Seq     int64
	Reason  string
}

type ChainReport struct {
	ChainID        string
	IsValid        bool
	VerifiedEvents int64
	FirstBreak     *ChainBreak
}
