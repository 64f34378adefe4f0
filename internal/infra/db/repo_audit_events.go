package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attestd/internal/domain"
	cryptoinfra "attestd/internal/infra/crypto"
	"attestd/internal/usecase"

	"gorm.io/gorm"
)

type AuditEventRepository struct {
	db *gorm.DB
}

func NewAuditEventRepository(db *gorm.DB) *AuditEventRepository {
	return &AuditEventRepository{db: db}
}

func (r *AuditEventRepository) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if r.db == nil {
		return domain.AuditEvent{}, errDBUnavailable
	}
	if event.ID == "" {
		id, err := newUUID()
		if err != nil {
			return domain.AuditEvent{}, err
		}
		event.ID = id
	}
	if event.EventType == "" {
		return domain.AuditEvent{}, errors.New("event_type is required")
	}
	if event.ChainID == "" {
		event.ChainID = domain.AuditGlobalChainID
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	} else {
		event.CreatedAt = event.CreatedAt.UTC()
	}
	event.CreatedAt = event.CreatedAt.Truncate(time.Microsecond)
	if event.Details == nil {
		event.Details = map[string]any{}
	}

	detailsJSON, err := cryptoinfra.CanonicalizeAny(event.Details)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.Details = detailsJSON
	event.DetailsHash = cryptoinfra.SHA256Hex(detailsJSON)

	var out domain.AuditEvent
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, prevHash, err := nextChainSeq(ctx, tx, event.ChainID)
		if err != nil {
			return err
		}
		event.Seq = seq
		event.PrevEventHash = prevHash

		eventHash, err := usecase.ComputeAuditEventHash(event)
		if err != nil {
			return err
		}
		event.EventHash = eventHash

		model := auditEventModelFromDomain(event, detailsJSON)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		out = event
		return nil
	})
	if err != nil {
		return domain.AuditEvent{}, err
	}
	return out, nil
}

func (r *AuditEventRepository) ListByChain(ctx context.Context, chainID string, fromSeq, toSeq int64, limit int) ([]domain.AuditEvent, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if chainID == "" {
		chainID = domain.AuditGlobalChainID
	}
	q := r.db.WithContext(ctx).Where("chain_id = ?", chainID)
	if fromSeq > 0 {
		q = q.Where("seq >= ?", fromSeq)
	}
	if toSeq > 0 {
		q = q.Where("seq <= ?", toSeq)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []AuditEventModel
	if err := q.Order("seq ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AuditEvent, 0, len(models))
	for _, model := range models {
		event, err := auditEventFromModel(model)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", model.ID, err)
		}
		out = append(out, event)
	}
	return out, nil
}

// nextChainSeq bumps the per-chain sequence under a FOR UPDATE lock and
// returns the new seq plus the previous event's hash. The lock linearizes
// appends so no two events are ever written with the same previous hash.
func nextChainSeq(ctx context.Context, tx *gorm.DB, chainID string) (int64, string, error) {
	if chainID == "" {
		return 0, "", errors.New("chain_id is required")
	}
	if err := tx.WithContext(ctx).Exec(
		"INSERT INTO audit_chain_seq (chain_id, seq) VALUES (?, 0) ON CONFLICT (chain_id) DO NOTHING",
		chainID,
	).Error; err != nil {
		return 0, "", err
	}

	var currentSeq int64
	if err := tx.WithContext(ctx).Raw(
		"SELECT seq FROM audit_chain_seq WHERE chain_id = ? FOR UPDATE",
		chainID,
	).Scan(&currentSeq).Error; err != nil {
		return 0, "", err
	}
	nextSeq := currentSeq + 1
	if err := tx.WithContext(ctx).Exec(
		"UPDATE audit_chain_seq SET seq = ? WHERE chain_id = ?",
		nextSeq,
		chainID,
	).Error; err != nil {
		return 0, "", err
	}

	prevHash := domain.AuditGenesisHash
	if currentSeq > 0 {
		var prev AuditEventModel
		if err := tx.WithContext(ctx).
			Where("chain_id = ? AND seq = ?", chainID, currentSeq).
			Take(&prev).Error; err != nil {
			return 0, "", err
		}
		prevHash = prev.EventHash
	}
	if prevHash == "" {
		return 0, "", fmt.Errorf("missing previous event hash for chain %s", chainID)
	}
	return nextSeq, prevHash, nil
}

func auditEventModelFromDomain(event domain.AuditEvent, detailsJSON []byte) AuditEventModel {
	return AuditEventModel{
		ID:             event.ID,
		ChainID:        event.ChainID,
		Seq:            event.Seq,
		EventType:      string(event.EventType),
		ActorID:        event.Actor.ID,
		ActorEmail:     event.Actor.Email,
		ActorIP:        stringPtrIfNotEmpty(event.Actor.IP),
		ActorUserAgent: stringPtrIfNotEmpty(event.Actor.UserAgent),
		ResourceType:   event.Resource.Type,
		ResourceID:     event.Resource.ID,
		ResourceName:   stringPtrIfNotEmpty(event.Resource.Name),
		DetailsJSON:    detailsJSON,
		DetailsHash:    event.DetailsHash,
		PrevEventHash:  event.PrevEventHash,
		EventHash:      event.EventHash,
		CreatedAt:      event.CreatedAt.UTC(),
	}
}

func auditEventFromModel(model AuditEventModel) (domain.AuditEvent, error) {
	// The jsonb column does not round-trip the written text: postgres
	// reorders keys and reflows whitespace on output. Re-canonicalizing
	// restores the exact bytes that were hashed at append time.
	detailsJSON, err := cryptoinfra.CanonicalizeJSON(model.DetailsJSON)
	if err != nil {
		return domain.AuditEvent{}, fmt.Errorf("canonicalize details: %w", err)
	}
	return domain.AuditEvent{
		ID:        model.ID,
		ChainID:   model.ChainID,
		Seq:       model.Seq,
		EventType: domain.AuditEventType(model.EventType),
		Actor: domain.AuditActor{
			ID:        model.ActorID,
			Email:     model.ActorEmail,
			IP:        stringValue(model.ActorIP),
			UserAgent: stringValue(model.ActorUserAgent),
		},
		Resource: domain.AuditResource{
			Type: model.ResourceType,
			ID:   model.ResourceID,
			Name: stringValue(model.ResourceName),
		},
		Details:       detailsJSON,
		DetailsHash:   model.DetailsHash,
		PrevEventHash: model.PrevEventHash,
		EventHash:     model.EventHash,
		CreatedAt:     model.CreatedAt.UTC(),
	}, nil
}
