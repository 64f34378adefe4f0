package db

import (
	"bytes"
	"testing"
	"time"

	"attestd/internal/domain"
	cryptoinfra "attestd/internal/infra/crypto"
)

// Postgres returns jsonb columns as re-serialized text: keys ordered
// length-first and whitespace reflowed. The converter must hand back the
// canonical bytes that were hashed at append time regardless.
func TestAuditEventFromModel_RecanonicalizesDetails(t *testing.T) {
	canonical := []byte(`{"attempt":1,"challenge_id":"ch-1","meaning":"approved"}`)
	jsonbOutput := []byte(`{"meaning": "approved", "attempt": 1, "challenge_id": "ch-1"}`)

	model := AuditEventModel{
		ID:            "ev-1",
		ChainID:       domain.AuditGlobalChainID,
		Seq:           1,
		EventType:     string(domain.AuditEventSignatureInitiated),
		ActorID:       "user-1",
		ActorEmail:    "alice@example.com",
		ResourceType:  "page",
		ResourceID:    "page-1",
		DetailsJSON:   jsonbOutput,
		DetailsHash:   cryptoinfra.SHA256Hex(canonical),
		PrevEventHash: domain.AuditGenesisHash,
		EventHash:     "irrelevant-here",
		CreatedAt:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	event, err := auditEventFromModel(model)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	raw, ok := event.Details.([]byte)
	if !ok {
		t.Fatalf("details are %T, want []byte", event.Details)
	}
	if !bytes.Equal(raw, canonical) {
		t.Fatalf("details = %s, want canonical %s", raw, canonical)
	}
	if cryptoinfra.SHA256Hex(raw) != model.DetailsHash {
		t.Fatal("recovered details must hash to the stored details_hash")
	}
}

func TestAuditEventFromModel_RejectsCorruptDetails(t *testing.T) {
	model := AuditEventModel{
		ID:          "ev-1",
		ChainID:     domain.AuditGlobalChainID,
		DetailsJSON: []byte(`{"broken":`),
	}
	if _, err := auditEventFromModel(model); err == nil {
		t.Fatal("expected error for undecodable details")
	}
}
