package usecase

import (
	"context"
	"testing"
	"time"

	"attestd/internal/domain"
)

// recordingAuditRepo captures the event exactly as the emitter hands it over.
type recordingAuditRepo struct {
	received []domain.AuditEvent
}

func (r *recordingAuditRepo) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	r.received = append(r.received, event)
	event.Seq = int64(len(r.received))
	return event, nil
}

func (r *recordingAuditRepo) ListByChain(ctx context.Context, chainID string, fromSeq, toSeq int64, limit int) ([]domain.AuditEvent, error) {
	return r.received, nil
}

func fixedClock(at time.Time) Clock {
	return func() time.Time { return at }
}

func TestAuditEmitter_Emit_Defaults(t *testing.T) {
	now := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	repo := &recordingAuditRepo{}
	emitter := NewAuditEmitter(repo, domain.ChainScopeGlobal, fixedClock(now))

	_, err := emitter.Emit(context.Background(), domain.AuditEvent{
		EventType: domain.AuditEventSignatureCreated,
		Actor:     domain.AuditActor{ID: "user-1"},
		Resource:  domain.AuditResource{Type: "page", ID: "page-1"},
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	got := repo.received[0]
	if got.ChainID != domain.AuditGlobalChainID {
		t.Fatalf("chain id = %q, want global", got.ChainID)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("created_at = %v, want clock time %v", got.CreatedAt, now)
	}
	if got.Details == nil {
		t.Fatal("details should default to an empty map")
	}
}

func TestAuditEmitter_Emit_Validation(t *testing.T) {
	emitter := NewAuditEmitter(&recordingAuditRepo{}, domain.ChainScopeGlobal, nil)

	cases := []struct {
		name  string
		event domain.AuditEvent
	}{
		{"unknown event type", domain.AuditEvent{
			EventType: "page.deleted",
			Actor:     domain.AuditActor{ID: "user-1"},
			Resource:  domain.AuditResource{Type: "page"},
		}},
		{"missing actor", domain.AuditEvent{
			EventType: domain.AuditEventSignatureCreated,
			Resource:  domain.AuditResource{Type: "page"},
		}},
		{"missing resource type", domain.AuditEvent{
			EventType: domain.AuditEventSignatureCreated,
			Actor:     domain.AuditActor{ID: "user-1"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := emitter.Emit(context.Background(), tc.event); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	var nilEmitter *AuditEmitter
	if _, err := nilEmitter.Emit(context.Background(), domain.AuditEvent{}); err == nil {
		t.Fatal("expected error from nil emitter")
	}
}

func TestAuditEmitter_PerTenantScope(t *testing.T) {
	repo := &recordingAuditRepo{}
	emitter := NewAuditEmitter(repo, domain.ChainScopePerTenant, nil)

	target := domain.SignatureTarget{PageID: "page-1"}
	err := emitter.EmitSignatureInitiated(context.Background(),
		domain.AuditActor{ID: "user-1"}, "acme", target, "SOP-001",
		domain.MeaningApproved, "ch-1", "abc123")
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if repo.received[0].ChainID != "acme" {
		t.Fatalf("chain id = %q, want tenant chain", repo.received[0].ChainID)
	}

	// An actor with no tenant still lands on the global chain.
	err = emitter.EmitSignatureInitiated(context.Background(),
		domain.AuditActor{ID: "user-2"}, "", target, "SOP-001",
		domain.MeaningApproved, "ch-2", "abc123")
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if repo.received[1].ChainID != domain.AuditGlobalChainID {
		t.Fatalf("chain id = %q, want global chain", repo.received[1].ChainID)
	}
}

func TestAuditEmitter_WithRepo(t *testing.T) {
	base := &recordingAuditRepo{}
	txRepo := &recordingAuditRepo{}
	emitter := NewAuditEmitter(base, domain.ChainScopeGlobal, nil)

	_, err := emitter.WithRepo(txRepo).Emit(context.Background(), domain.AuditEvent{
		EventType: domain.AuditEventSignatureCreated,
		Actor:     domain.AuditActor{ID: "user-1"},
		Resource:  domain.AuditResource{Type: "page", ID: "page-1"},
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(base.received) != 0 {
		t.Fatal("event must not reach the base repository")
	}
	if len(txRepo.received) != 1 {
		t.Fatal("event must reach the transaction-bound repository")
	}
}

func TestAuditEmitter_SignatureCreatedDetails(t *testing.T) {
	repo := &recordingAuditRepo{}
	emitter := NewAuditEmitter(repo, domain.ChainScopeGlobal, nil)
	sig := domain.ElectronicSignature{
		ID:              "sig-2",
		Target:          domain.SignatureTarget{ChangeRequestID: "cr-7"},
		ContentHash:     "abc123",
		Meaning:         domain.MeaningReviewed,
		SignedAt:        time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC),
		TimestampSource: "tsa:https://tsa.example.com",
	}

	if err := emitter.EmitSignatureCreated(context.Background(), domain.AuditActor{ID: "user-1"}, "", sig, "CR-7"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	details := repo.received[0].Details.(map[string]any)
	if _, ok := details["previous_signature_id"]; ok {
		t.Fatal("previous_signature_id must be omitted for the first signature")
	}
	if repo.received[0].Resource.Type != "change_request" || repo.received[0].Resource.ID != "cr-7" {
		t.Fatalf("resource = %+v, want change_request cr-7", repo.received[0].Resource)
	}

	sig.PreviousSignatureID = "sig-1"
	if err := emitter.EmitSignatureCreated(context.Background(), domain.AuditActor{ID: "user-1"}, "", sig, "CR-7"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	details = repo.received[1].Details.(map[string]any)
	if details["previous_signature_id"] != "sig-1" {
		t.Fatalf("previous_signature_id = %v, want sig-1", details["previous_signature_id"])
	}
}
