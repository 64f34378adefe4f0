package usecase

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"attestd/internal/domain"
)

const (
	// DefaultChallengeTTL bounds the window between initiating a signature
	// and re-authenticating to complete it.
	DefaultChallengeTTL = 5 * time.Minute

	challengeTokenBytes = 32
)

type ChallengeService struct {
	Repo  ChallengeRepository
	TTL   time.Duration
	Clock Clock
}

func NewChallengeService(repo ChallengeRepository, ttl time.Duration, clock Clock) *ChallengeService {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &ChallengeService{Repo: repo, TTL: ttl, Clock: clock}
}

func (s *ChallengeService) Create(ctx context.Context, userID string, target domain.SignatureTarget, meaning domain.SignatureMeaning, contentHash, reason string) (domain.SignatureChallenge, error) {
	if userID == "" || contentHash == "" {
		return domain.SignatureChallenge{}, domain.ErrValidation
	}
	if err := target.Validate(); err != nil {
		return domain.SignatureChallenge{}, err
	}
	if !meaning.Valid() {
		return domain.SignatureChallenge{}, domain.ErrValidation
	}
	token, err := newChallengeToken()
	if err != nil {
		return domain.SignatureChallenge{}, err
	}
	now := s.Clock().UTC()
	return s.Repo.Create(ctx, domain.SignatureChallenge{
		UserID:      userID,
		Target:      target,
		Meaning:     meaning,
		Reason:      reason,
		ContentHash: contentHash,
		Token:       token,
		ExpiresAt:   now.Add(s.TTL),
		CreatedAt:   now,
	})
}

func (s *ChallengeService) IsValid(challenge domain.SignatureChallenge) bool {
	return challenge.ValidAt(s.Clock().UTC())
}

// Consume delegates to the repository's conditional update; under two racing
// completions exactly one caller gets past this call.
func (s *ChallengeService) Consume(ctx context.Context, challengeID string) error {
	return s.Repo.Consume(ctx, challengeID, s.Clock().UTC())
}

// SweepExpired deletes expired, never-used challenges. Housekeeping only:
// expiry is already enforced by ValidAt, so failures are non-critical.
func (s *ChallengeService) SweepExpired(ctx context.Context) (int64, error) {
	return s.Repo.DeleteExpiredUnused(ctx, s.Clock().UTC())
}

// RunSweeper loops SweepExpired until the context is cancelled.
func (s *ChallengeService) RunSweeper(ctx context.Context, interval time.Duration, logf func(format string, args ...any)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.SweepExpired(ctx)
			if err != nil {
				if logf != nil {
					logf("challenge sweep failed: %v", err)
				}
				continue
			}
			if removed > 0 && logf != nil {
				logf("challenge sweep removed %d expired challenges", removed)
			}
		}
	}
}

// newChallengeToken returns 256 bits from crypto/rand, base64url encoded.
func newChallengeToken() (string, error) {
	raw := make([]byte, challengeTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate challenge token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
