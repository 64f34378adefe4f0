package usecase

import (
	"context"
	"time"

	"attestd/internal/domain"
)

type Clock func() time.Time

type AuditEventRepository interface {
	Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
	// ListByChain returns events in insertion (seq) order. fromSeq/toSeq of 0
	// mean unbounded; limit of 0 means no cap.
	ListByChain(ctx context.Context, chainID string, fromSeq, toSeq int64, limit int) ([]domain.AuditEvent, error)
}

type ChallengeRepository interface {
	Create(ctx context.Context, challenge domain.SignatureChallenge) (domain.SignatureChallenge, error)
	GetByToken(ctx context.Context, token string) (*domain.SignatureChallenge, error)
	// Consume flips is_used false->true as one atomic conditional update.
	// Returns domain.ErrChallengeInvalid when the challenge was already used
	// or does not exist.
	Consume(ctx context.Context, challengeID string, usedAt time.Time) error
	DeleteExpiredUnused(ctx context.Context, before time.Time) (int64, error)
}

type SignatureRepository interface {
	Insert(ctx context.Context, sig domain.ElectronicSignature) (domain.ElectronicSignature, error)
	GetByID(ctx context.Context, id string) (*domain.ElectronicSignature, error)
	LatestValidForTarget(ctx context.Context, target domain.SignatureTarget) (*domain.ElectronicSignature, error)
	// Invalidate flips is_valid true->false exactly once; a second call
	// returns domain.ErrSignatureInvalidated.
	Invalidate(ctx context.Context, id string, at time.Time, reason string) error
}

// SignatureStore groups the three repositories and runs a function inside a
// single transaction, so a consumed challenge can never outlive a failed
// signature insert.
type SignatureStore interface {
	Challenges() ChallengeRepository
	Signatures() SignatureRepository
	AuditEvents() AuditEventRepository
	WithTx(ctx context.Context, fn func(SignatureStore) error) error
}

// IdentityProvider is the authentication collaborator. Password storage and
// session handling live outside this core.
type IdentityProvider interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	VerifyPassword(ctx context.Context, userID, password string) (bool, error)
}

// PermissionChecker is the permission collaborator (check_access).
type PermissionChecker interface {
	CheckAccess(ctx context.Context, user *domain.User, action string, resource domain.AuditResource) (bool, string, error)
}

// TargetContent is the content collaborator's view of the entity being
// signed: the raw content for hashing, a display title, and an optional
// storage version reference (e.g. a commit id).
type TargetContent struct {
	Content    any
	Title      string
	VersionRef string
}

type ContentResolver interface {
	Resolve(ctx context.Context, target domain.SignatureTarget) (*TargetContent, error)
}

// TimeSource yields a trusted timestamp and the identifier of the authority
// that answered. Fails closed when no authority is reachable.
type TimeSource interface {
	GetTimestamp(ctx context.Context) (time.Time, string, error)
}

type VerificationCache interface {
	Get(ctx context.Context, key string) (*domain.VerificationReport, bool, error)
	Put(ctx context.Context, key string, value domain.VerificationReport, ttl time.Duration) error
}
