package db

import (
	"context"
	"errors"
	"time"

	"attestd/internal/domain"

	"gorm.io/gorm"
)

type ChallengeRepository struct {
	db *gorm.DB
}

func NewChallengeRepository(db *gorm.DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

func (r *ChallengeRepository) Create(ctx context.Context, challenge domain.SignatureChallenge) (domain.SignatureChallenge, error) {
	if r.db == nil {
		return domain.SignatureChallenge{}, errDBUnavailable
	}
	if challenge.ID == "" {
		id, err := newUUID()
		if err != nil {
			return domain.SignatureChallenge{}, err
		}
		challenge.ID = id
	}
	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = time.Now().UTC()
	}
	model := challengeModelFromDomain(challenge)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.SignatureChallenge{}, err
	}
	return challengeFromModel(model), nil
}

func (r *ChallengeRepository) GetByToken(ctx context.Context, token string) (*domain.SignatureChallenge, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model SignatureChallengeModel
	err := r.db.WithContext(ctx).Where("challenge_token = ?", token).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := challengeFromModel(model)
	return &out, nil
}

func (r *ChallengeRepository) Consume(ctx context.Context, challengeID string, usedAt time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&SignatureChallengeModel{}).
		Where("id = ? AND is_used = false", challengeID).
		Updates(map[string]any{"is_used": true, "used_at": usedAt.UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrChallengeInvalid
	}
	return nil
}

func (r *ChallengeRepository) DeleteExpiredUnused(ctx context.Context, before time.Time) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Where("is_used = false AND expires_at < ?", before.UTC()).
		Delete(&SignatureChallengeModel{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func challengeModelFromDomain(challenge domain.SignatureChallenge) SignatureChallengeModel {
	return SignatureChallengeModel{
		ID:              challenge.ID,
		UserID:          challenge.UserID,
		PageID:          stringPtrIfNotEmpty(challenge.Target.PageID),
		ChangeRequestID: stringPtrIfNotEmpty(challenge.Target.ChangeRequestID),
		Meaning:         string(challenge.Meaning),
		Reason:          stringPtrIfNotEmpty(challenge.Reason),
		ContentHash:     challenge.ContentHash,
		ChallengeToken:  challenge.Token,
		ExpiresAt:       challenge.ExpiresAt.UTC(),
		IsUsed:          challenge.IsUsed,
		UsedAt:          challenge.UsedAt,
		CreatedAt:       challenge.CreatedAt.UTC(),
	}
}

func challengeFromModel(model SignatureChallengeModel) domain.SignatureChallenge {
	return domain.SignatureChallenge{
		ID:     model.ID,
		UserID: model.UserID,
		Target: domain.SignatureTarget{
			PageID:          stringValue(model.PageID),
			ChangeRequestID: stringValue(model.ChangeRequestID),
		},
		Meaning:     domain.SignatureMeaning(model.Meaning),
		Reason:      stringValue(model.Reason),
		ContentHash: model.ContentHash,
		Token:       model.ChallengeToken,
		ExpiresAt:   model.ExpiresAt.UTC(),
		IsUsed:      model.IsUsed,
		UsedAt:      model.UsedAt,
		CreatedAt:   model.CreatedAt.UTC(),
	}
}
