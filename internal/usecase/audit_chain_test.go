package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"attestd/internal/domain"
)

// chainRepo is a minimal in-memory AuditEventRepository for verifier tests.
// Append assigns seq and hashes the same way the real repositories do.
type chainRepo struct {
	events  []domain.AuditEvent
	listErr error
}

func (r *chainRepo) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if event.ChainID == "" {
		event.ChainID = domain.AuditGlobalChainID
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	details, err := json.Marshal(event.Details)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.Details = details
	event.DetailsHash = sha256Hex(details)
	event.Seq = int64(len(r.events)) + 1
	event.PrevEventHash = domain.AuditGenesisHash
	if len(r.events) > 0 {
		event.PrevEventHash = r.events[len(r.events)-1].EventHash
	}
	event.EventHash, err = ComputeAuditEventHash(event)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	r.events = append(r.events, event)
	return event, nil
}

func (r *chainRepo) ListByChain(ctx context.Context, chainID string, fromSeq, toSeq int64, limit int) ([]domain.AuditEvent, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]domain.AuditEvent, 0, len(r.events))
	for _, event := range r.events {
		if fromSeq > 0 && event.Seq < fromSeq {
			continue
		}
		if toSeq > 0 && event.Seq > toSeq {
			continue
		}
		out = append(out, event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func seedChain(t *testing.T, n int) *chainRepo {
	t.Helper()
	repo := &chainRepo{}
	for i := 0; i < n; i++ {
		_, err := repo.Append(context.Background(), domain.AuditEvent{
			EventType: domain.AuditEventSignatureCreated,
			Actor:     domain.AuditActor{ID: "user-1", Email: "alice@example.com"},
			Resource:  domain.AuditResource{Type: "page", ID: "page-1", Name: "SOP-001"},
			Details:   map[string]any{"step": i + 1},
		})
		if err != nil {
			t.Fatalf("append event %d: %v", i+1, err)
		}
	}
	return repo
}

func TestVerifyAuditChain_Valid(t *testing.T) {
	repo := seedChain(t, 3)

	report, err := VerifyAuditChain(context.Background(), repo, "", VerifyChainOptions{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.IsValid {
		t.Fatalf("expected valid chain, got break %+v", report.FirstBreak)
	}
	if report.VerifiedEvents != 3 {
		t.Fatalf("verified events = %d, want 3", report.VerifiedEvents)
	}
	if report.ChainID != domain.AuditGlobalChainID {
		t.Fatalf("chain id = %q, want global", report.ChainID)
	}
}

func TestVerifyAuditChain_EmptyChain(t *testing.T) {
	report, err := VerifyAuditChain(context.Background(), &chainRepo{}, "", VerifyChainOptions{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.IsValid || report.VerifiedEvents != 0 {
		t.Fatalf("empty chain should be valid with zero events, got %+v", report)
	}
}

func TestVerifyAuditChain_NilRepo(t *testing.T) {
	if _, err := VerifyAuditChain(context.Background(), nil, "", VerifyChainOptions{}); err == nil {
		t.Fatal("expected error for nil repository")
	}
}

func TestVerifyAuditChain_DetectsDetailsTamper(t *testing.T) {
	repo := seedChain(t, 3)
	repo.events[1].Details = []byte(`{"step":99}`)

	report, err := VerifyAuditChain(context.Background(), repo, "", VerifyChainOptions{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.IsValid {
		t.Fatal("expected tampered chain to fail verification")
	}
	if report.FirstBreak == nil || report.FirstBreak.Seq != 2 {
		t.Fatalf("first break = %+v, want seq 2", report.FirstBreak)
	}
	if !strings.Contains(report.FirstBreak.Reason, "details hash mismatch") {
		t.Fatalf("unexpected break reason %q", report.FirstBreak.Reason)
	}
	if report.VerifiedEvents != 1 {
		t.Fatalf("verified events before break = %d, want 1", report.VerifiedEvents)
	}
}

func TestVerifyAuditChain_DetectsFieldTamper(t *testing.T) {
	repo := seedChain(t, 3)
	repo.events[1].Resource.ID = "page-2"

	report, err := VerifyAuditChain(context.Background(), repo, "", VerifyChainOptions{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.IsValid {
		t.Fatal("expected tampered chain to fail verification")
	}
	if report.FirstBreak.Seq != 2 || !strings.Contains(report.FirstBreak.Reason, "event hash mismatch") {
		t.Fatalf("first break = %+v, want event hash mismatch at seq 2", report.FirstBreak)
	}
}

func TestVerifyAuditChain_DetectsLinkBreak(t *testing.T) {
	repo := seedChain(t, 3)
	repo.events[2].PrevEventHash = repo.events[0].EventHash

	report, err := VerifyAuditChain(context.Background(), repo, "", VerifyChainOptions{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.IsValid {
		t.Fatal("expected broken link to fail verification")
	}
	if report.FirstBreak.Seq != 3 || !strings.Contains(report.FirstBreak.Reason, "does not link") {
		t.Fatalf("first break = %+v, want link break at seq 3", report.FirstBreak)
	}
}

func TestVerifyAuditChain_DetectsSeqGap(t *testing.T) {
	repo := seedChain(t, 3)
	repo.events = append(repo.events[:1], repo.events[2])

	report, err := VerifyAuditChain(context.Background(), repo, "", VerifyChainOptions{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.IsValid {
		t.Fatal("expected gap to fail verification")
	}
	if report.FirstBreak.Seq != 3 || !strings.Contains(report.FirstBreak.Reason, "seq gap") {
		t.Fatalf("first break = %+v, want seq gap at seq 3", report.FirstBreak)
	}
}

func TestVerifyAuditChain_GenesisViolation(t *testing.T) {
	repo := seedChain(t, 2)
	repo.events[0].PrevEventHash = repo.events[1].EventHash

	report, err := VerifyAuditChain(context.Background(), repo, "", VerifyChainOptions{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.IsValid {
		t.Fatal("expected genesis violation to fail verification")
	}
	if !strings.Contains(report.FirstBreak.Reason, "genesis") {
		t.Fatalf("unexpected break reason %q", report.FirstBreak.Reason)
	}
}

func TestVerifyAuditChain_MustStartAtSeqOne(t *testing.T) {
	repo := seedChain(t, 3)
	repo.events = repo.events[1:]

	report, err := VerifyAuditChain(context.Background(), repo, "", VerifyChainOptions{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.IsValid || !strings.Contains(report.FirstBreak.Reason, "start at seq 1") {
		t.Fatalf("expected start-at-1 break, got %+v", report.FirstBreak)
	}
}

func TestVerifyAuditChain_Window(t *testing.T) {
	repo := seedChain(t, 5)

	report, err := VerifyAuditChain(context.Background(), repo, "", VerifyChainOptions{FromSeq: 2, ToSeq: 4})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.IsValid {
		t.Fatalf("windowed verify should pass, got break %+v", report.FirstBreak)
	}
	if report.VerifiedEvents != 3 {
		t.Fatalf("verified events = %d, want 3", report.VerifiedEvents)
	}
}

func TestComputeAuditEventHash_RequiresChainedFields(t *testing.T) {
	event := domain.AuditEvent{
		ChainID:       domain.AuditGlobalChainID,
		EventType:     domain.AuditEventSignatureCreated,
		DetailsHash:   sha256Hex([]byte("{}")),
		PrevEventHash: domain.AuditGenesisHash,
		Seq:           1,
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := ComputeAuditEventHash(event); err != nil {
		t.Fatalf("complete event should hash: %v", err)
	}

	missing := event
	missing.PrevEventHash = ""
	if _, err := ComputeAuditEventHash(missing); err == nil {
		t.Fatal("expected error for missing prev_event_hash")
	}
	missing = event
	missing.EventType = ""
	if _, err := ComputeAuditEventHash(missing); err == nil {
		t.Fatal("expected error for missing event_type")
	}
}

func TestComputeAuditEventHash_Deterministic(t *testing.T) {
	event := domain.AuditEvent{
		ChainID:       domain.AuditGlobalChainID,
		EventType:     domain.AuditEventSignatureInitiated,
		Actor:         domain.AuditActor{ID: "user-1", Email: "alice@example.com", IP: "10.0.0.1"},
		Resource:      domain.AuditResource{Type: "page", ID: "page-1", Name: `SOP "Alpha"`},
		DetailsHash:   sha256Hex([]byte("{}")),
		PrevEventHash: domain.AuditGenesisHash,
		Seq:           1,
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
	}
	first, err := ComputeAuditEventHash(event)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := ComputeAuditEventHash(event)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first != second {
		t.Fatalf("hash not deterministic: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(first))
	}
}
