package usecase

import (
	"context"
	"errors"
	"time"

	"attestd/internal/domain"
)

// AuditEmitter validates events at the boundary and appends them through a
// repository. The repository owns seq assignment and hash chaining; the
// emitter owns field discipline.
type AuditEmitter struct {
	Repo  AuditEventRepository
	Scope domain.ChainScope
	Clock Clock
}

func NewAuditEmitter(repo AuditEventRepository, scope domain.ChainScope, clock Clock) *AuditEmitter {
	return &AuditEmitter{Repo: repo, Scope: scope, Clock: clock}
}

// WithRepo returns an emitter bound to a transaction-scoped repository, so
// signature writes and their audit events commit or roll back together.
func (e *AuditEmitter) WithRepo(repo AuditEventRepository) *AuditEmitter {
	return &AuditEmitter{Repo: repo, Scope: e.Scope, Clock: e.Clock}
}

func (e *AuditEmitter) Emit(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if e == nil || e.Repo == nil {
		return domain.AuditEvent{}, errors.New("audit repository required")
	}
	if !event.EventType.Valid() {
		return domain.AuditEvent{}, errors.New("unknown audit event type")
	}
	if event.Resource.Type == "" || event.Actor.ID == "" {
		return domain.AuditEvent{}, errors.New("audit event missing actor or resource")
	}
	if event.ChainID == "" {
		event.ChainID = e.Scope.ChainID("")
	}
	if event.Details == nil {
		event.Details = map[string]any{}
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = e.now().UTC()
	} else {
		event.CreatedAt = event.CreatedAt.UTC()
	}
	return e.Repo.Append(ctx, event)
}

func (e *AuditEmitter) EmitSignatureInitiated(ctx context.Context, actor domain.AuditActor, tenantID string, target domain.SignatureTarget, targetName string, meaning domain.SignatureMeaning, challengeID, contentHash string) error {
	_, err := e.Emit(ctx, domain.AuditEvent{
		ChainID:   e.Scope.ChainID(tenantID),
		EventType: domain.AuditEventSignatureInitiated,
		Actor:     actor,
		Resource: domain.AuditResource{
			Type: target.Kind(),
			ID:   target.ID(),
			Name: targetName,
		},
		Details: map[string]any{
			"challenge_id": challengeID,
			"content_hash": contentHash,
			"meaning":      string(meaning),
		},
	})
	return err
}

func (e *AuditEmitter) EmitSignatureCreated(ctx context.Context, actor domain.AuditActor, tenantID string, sig domain.ElectronicSignature, targetName string) error {
	details := map[string]any{
		"signature_id":     sig.ID,
		"content_hash":     sig.ContentHash,
		"meaning":          string(sig.Meaning),
		"signed_at":        sig.SignedAt.UTC().Format(time.RFC3339Nano),
		"timestamp_source": sig.TimestampSource,
	}
	if sig.PreviousSignatureID != "" {
		details["previous_signature_id"] = sig.PreviousSignatureID
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		ChainID:   e.Scope.ChainID(tenantID),
		EventType: domain.AuditEventSignatureCreated,
		Actor:     actor,
		Resource: domain.AuditResource{
			Type: sig.Target.Kind(),
			ID:   sig.Target.ID(),
			Name: targetName,
		},
		Details: details,
	})
	return err
}

func (e *AuditEmitter) EmitSignatureInvalidated(ctx context.Context, actor domain.AuditActor, tenantID string, sig domain.ElectronicSignature, reason string) error {
	_, err := e.Emit(ctx, domain.AuditEvent{
		ChainID:   e.Scope.ChainID(tenantID),
		EventType: domain.AuditEventSignatureInvalidated,
		Actor:     actor,
		Resource: domain.AuditResource{
			Type: sig.Target.Kind(),
			ID:   sig.Target.ID(),
		},
		Details: map[string]any{
			"signature_id": sig.ID,
			"reason":       reason,
		},
	})
	return err
}

func (e *AuditEmitter) EmitChainExported(ctx context.Context, actor domain.AuditActor, chainID string, fromSeq, toSeq int64, reportHash string) error {
	_, err := e.Emit(ctx, domain.AuditEvent{
		ChainID:   chainID,
		EventType: domain.AuditEventChainExported,
		Actor:     actor,
		Resource: domain.AuditResource{
			Type: "audit_chain",
			ID:   chainID,
		},
		Details: map[string]any{
			"from_seq":    fromSeq,
			"to_seq":      toSeq,
			"report_hash": reportHash,
		},
	})
	return err
}

func (e *AuditEmitter) now() time.Time {
	if e != nil && e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}
