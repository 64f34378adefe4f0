package db

import (
	"context"
	"errors"
	"time"

	"attestd/internal/domain"

	"gorm.io/gorm"
)

type SignatureRepository struct {
	db *gorm.DB
}

func NewSignatureRepository(db *gorm.DB) *SignatureRepository {
	return &SignatureRepository{db: db}
}

func (r *SignatureRepository) Insert(ctx context.Context, sig domain.ElectronicSignature) (domain.ElectronicSignature, error) {
	if r.db == nil {
		return domain.ElectronicSignature{}, errDBUnavailable
	}
	if sig.ID == "" {
		id, err := newUUID()
		if err != nil {
			return domain.ElectronicSignature{}, err
		}
		sig.ID = id
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	model := signatureModelFromDomain(sig)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.ElectronicSignature{}, err
	}
	return signatureFromModel(model), nil
}

func (r *SignatureRepository) GetByID(ctx context.Context, id string) (*domain.ElectronicSignature, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ElectronicSignatureModel
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := signatureFromModel(model)
	return &out, nil
}

func (r *SignatureRepository) LatestValidForTarget(ctx context.Context, target domain.SignatureTarget) (*domain.ElectronicSignature, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	q := r.db.WithContext(ctx).Where("is_valid = true")
	if target.PageID != "" {
		q = q.Where("page_id = ?", target.PageID)
	} else {
		q = q.Where("change_request_id = ?", target.ChangeRequestID)
	}
	var model ElectronicSignatureModel
	err := q.Order("created_at DESC").Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := signatureFromModel(model)
	return &out, nil
}

func (r *SignatureRepository) Invalidate(ctx context.Context, id string, at time.Time, reason string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&ElectronicSignatureModel{}).
		Where("id = ? AND is_valid = true", id).
		Updates(map[string]any{
			"is_valid":            false,
			"invalidated_at":      at.UTC(),
			"invalidation_reason": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&ElectronicSignatureModel{}).
			Where("id = ?", id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrSignatureInvalidated
	}
	return nil
}

func signatureModelFromDomain(sig domain.ElectronicSignature) ElectronicSignatureModel {
	return ElectronicSignatureModel{
		ID:                  sig.ID,
		PageID:              stringPtrIfNotEmpty(sig.Target.PageID),
		ChangeRequestID:     stringPtrIfNotEmpty(sig.Target.ChangeRequestID),
		SignerID:            sig.SignerID,
		SignerName:          sig.SignerName,
		SignerEmail:         sig.SignerEmail,
		SignerTitle:         stringPtrIfNotEmpty(sig.SignerTitle),
		Meaning:             string(sig.Meaning),
		Reason:              stringPtrIfNotEmpty(sig.Reason),
		ContentHash:         sig.ContentHash,
		ContentVersionRef:   stringPtrIfNotEmpty(sig.ContentVersionRef),
		SignedAt:            sig.SignedAt.UTC(),
		TimestampSource:     sig.TimestampSource,
		AuthMethod:          sig.AuthMethod,
		AuthSessionID:       stringPtrIfNotEmpty(sig.AuthSessionID),
		IPAddress:           stringPtrIfNotEmpty(sig.IPAddress),
		UserAgent:           stringPtrIfNotEmpty(sig.UserAgent),
		PreviousSignatureID: stringPtrIfNotEmpty(sig.PreviousSignatureID),
		IsValid:             sig.IsValid,
		InvalidatedAt:       sig.InvalidatedAt,
		InvalidationReason:  stringPtrIfNotEmpty(sig.InvalidationReason),
		CreatedAt:           sig.CreatedAt.UTC(),
	}
}

func signatureFromModel(model ElectronicSignatureModel) domain.ElectronicSignature {
	return domain.ElectronicSignature{
		ID: model.ID,
		Target: domain.SignatureTarget{
			PageID:          stringValue(model.PageID),
			ChangeRequestID: stringValue(model.ChangeRequestID),
		},
		SignerID:            model.SignerID,
		SignerName:          model.SignerName,
		SignerEmail:         model.SignerEmail,
		SignerTitle:         stringValue(model.SignerTitle),
		Meaning:             domain.SignatureMeaning(model.Meaning),
		Reason:              stringValue(model.Reason),
		ContentHash:         model.ContentHash,
		ContentVersionRef:   stringValue(model.ContentVersionRef),
		SignedAt:            model.SignedAt.UTC(),
		TimestampSource:     model.TimestampSource,
		AuthMethod:          model.AuthMethod,
		AuthSessionID:       stringValue(model.AuthSessionID),
		IPAddress:           stringValue(model.IPAddress),
		UserAgent:           stringValue(model.UserAgent),
		PreviousSignatureID: stringValue(model.PreviousSignatureID),
		IsValid:             model.IsValid,
		InvalidatedAt:       model.InvalidatedAt,
		InvalidationReason:  stringValue(model.InvalidationReason),
		CreatedAt:           model.CreatedAt.UTC(),
	}
}
