package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"attestd/internal/domain"
)

const (
	contentPreviewMaxLen = 200

	// ActionInvalidateSignature is the permission checked before a signature
	// may be invalidated.
	ActionInvalidateSignature = "signature.invalidate"
)

// ContentHasher is the canonical-hash collaborator. The preview is display
// only and never enters a trust comparison.
type ContentHasher interface {
	ComputeContentHash(content any) (string, error)
	VerifyContentHash(content any, expected string) bool
	ContentPreview(content any, maxLen int) string
}

// SignatureService drives the initiate -> re-authenticate -> complete flow,
// writes audit events, and manages signature chains and invalidation.
type SignatureService struct {
	Store       SignatureStore
	Content     ContentResolver
	Hasher      ContentHasher
	Identity    IdentityProvider
	Permissions PermissionChecker
	Time        TimeSource
	Challenges  *ChallengeService
	Audit       *AuditEmitter
	Cache       VerificationCache

	Limiter      domain.RateLimiter
	ReauthLimit  int
	ReauthWindow time.Duration

	VerifyCacheTTL time.Duration
	Clock          Clock
}

type InitiateRequest struct {
	UserID    string
	Target    domain.SignatureTarget
	Meaning   domain.SignatureMeaning
	Reason    string
	IPAddress string
	UserAgent string
}

type InitiateResponse struct {
	ChallengeToken string
	ExpiresAt      time.Time
	ContentHash    string
	ContentPreview string
}

func (s *SignatureService) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	if err := req.Target.Validate(); err != nil {
		return nil, err
	}
	if !req.Meaning.Valid() {
		return nil, domain.ErrValidation
	}
	user, err := s.Identity.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrNotFound
	}

	content, err := s.Content.Resolve(ctx, req.Target)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, domain.ErrNotFound
	}
	contentHash, err := s.Hasher.ComputeContentHash(content.Content)
	if err != nil {
		return nil, err
	}

	challenge, err := s.Challenges.Create(ctx, user.ID, req.Target, req.Meaning, contentHash, req.Reason)
	if err != nil {
		return nil, err
	}

	actor := actorFor(user, req.IPAddress, req.UserAgent)
	if err := s.Audit.EmitSignatureInitiated(ctx, actor, user.TenantID, req.Target, content.Title, req.Meaning, challenge.ID, contentHash); err != nil {
		return nil, err
	}

	return &InitiateResponse{
		ChallengeToken: challenge.Token,
		ExpiresAt:      challenge.ExpiresAt,
		ContentHash:    contentHash,
		ContentPreview: s.Hasher.ContentPreview(content.Content, contentPreviewMaxLen),
	}, nil
}

type CompleteRequest struct {
	ChallengeToken string
	Password       string
	ReasonOverride string
	AuthSessionID  string
	IPAddress      string
	UserAgent      string
}

func (s *SignatureService) Complete(ctx context.Context, req CompleteRequest) (*domain.ElectronicSignature, error) {
	challenge, err := s.Store.Challenges().GetByToken(ctx, req.ChallengeToken)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, domain.ErrChallengeInvalid
	}
	now := s.now().UTC()
	if now.After(challenge.ExpiresAt) {
		return nil, domain.ErrChallengeExpired
	}
	if challenge.IsUsed {
		return nil, domain.ErrChallengeInvalid
	}

	content, err := s.Content.Resolve(ctx, challenge.Target)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, domain.ErrContentChanged
	}
	currentHash, err := s.Hasher.ComputeContentHash(content.Content)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(currentHash, challenge.ContentHash) {
		// The content the signer reviewed no longer exists; burn the stale
		// challenge so the flow restarts from a fresh hash.
		if consumeErr := s.Store.Challenges().Consume(ctx, challenge.ID, now); consumeErr != nil && !errors.Is(consumeErr, domain.ErrChallengeInvalid) {
			return nil, consumeErr
		}
		return nil, domain.ErrContentChanged
	}

	if err := s.allowReauthAttempt(ctx, challenge.UserID); err != nil {
		return nil, err
	}
	user, err := s.Identity.GetUser(ctx, challenge.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrAuthentication
	}
	ok, err := s.Identity.VerifyPassword(ctx, challenge.UserID, req.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Wrong password does not burn the challenge; the signer may retry
		// until natural expiry.
		return nil, domain.ErrAuthentication
	}

	// The timestamp network call happens before the serialized transaction
	// so the chain lock is never held across it. No timestamp, no signature.
	signedAt, timestampSource, err := s.Time.GetTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	reason := challenge.Reason
	if req.ReasonOverride != "" {
		reason = req.ReasonOverride
	}
	actor := actorFor(user, req.IPAddress, req.UserAgent)

	var created domain.ElectronicSignature
	err = s.Store.WithTx(ctx, func(tx SignatureStore) error {
		if err := tx.Challenges().Consume(ctx, challenge.ID, now); err != nil {
			return err
		}
		previous, err := tx.Signatures().LatestValidForTarget(ctx, challenge.Target)
		if err != nil {
			return err
		}
		sig := domain.ElectronicSignature{
			Target:            challenge.Target,
			SignerID:          user.ID,
			SignerName:        user.Name,
			SignerEmail:       user.Email,
			SignerTitle:       user.Title,
			Meaning:           challenge.Meaning,
			Reason:            reason,
			ContentHash:       challenge.ContentHash,
			ContentVersionRef: content.VersionRef,
			SignedAt:          signedAt.UTC(),
			TimestampSource:   timestampSource,
			AuthMethod:        "password",
			AuthSessionID:     req.AuthSessionID,
			IPAddress:         req.IPAddress,
			UserAgent:         req.UserAgent,
			IsValid:           true,
			CreatedAt:         now,
		}
		if previous != nil {
			sig.PreviousSignatureID = previous.ID
		}
		created, err = tx.Signatures().Insert(ctx, sig)
		if err != nil {
			return err
		}
		return s.Audit.WithRepo(tx.AuditEvents()).EmitSignatureCreated(ctx, actor, user.TenantID, created, content.Title)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

type InvalidateRequest struct {
	SignatureID string
	ActorUserID string
	Reason      string
	IPAddress   string
	UserAgent   string
}

func (s *SignatureService) Invalidate(ctx context.Context, req InvalidateRequest) (*domain.ElectronicSignature, error) {
	if req.Reason == "" {
		return nil, domain.ErrValidation
	}
	sig, err := s.Store.Signatures().GetByID(ctx, req.SignatureID)
	if err != nil {
		return nil, err
	}
	if sig == nil {
		return nil, domain.ErrNotFound
	}
	actorUser, err := s.Identity.GetUser(ctx, req.ActorUserID)
	if err != nil {
		return nil, err
	}
	if actorUser == nil {
		return nil, domain.ErrForbidden
	}
	resource := domain.AuditResource{Type: sig.Target.Kind(), ID: sig.Target.ID()}
	allowed, denyReason, err := s.Permissions.CheckAccess(ctx, actorUser, ActionInvalidateSignature, resource)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s", domain.ErrForbidden, denyReason)
	}

	now := s.now().UTC()
	actor := actorFor(actorUser, req.IPAddress, req.UserAgent)
	err = s.Store.WithTx(ctx, func(tx SignatureStore) error {
		if err := tx.Signatures().Invalidate(ctx, sig.ID, now, req.Reason); err != nil {
			return err
		}
		return s.Audit.WithRepo(tx.AuditEvents()).EmitSignatureInvalidated(ctx, actor, actorUser.TenantID, *sig, req.Reason)
	})
	if err != nil {
		return nil, err
	}
	return s.Store.Signatures().GetByID(ctx, sig.ID)
}

func (s *SignatureService) Verify(ctx context.Context, signatureID string) (domain.VerificationReport, error) {
	if s.Cache != nil {
		if cached, ok, err := s.Cache.Get(ctx, signatureID); err == nil && ok {
			return *cached, nil
		}
	}
	sig, err := s.Store.Signatures().GetByID(ctx, signatureID)
	if err != nil {
		return domain.VerificationReport{}, err
	}
	if sig == nil {
		return domain.VerificationReport{}, domain.ErrNotFound
	}

	report := domain.VerificationReport{
		SignatureID: sig.ID,
		IsValid:     sig.IsValid,
		CheckedAt:   s.now().UTC(),
	}
	if !sig.IsValid {
		report.Issues = append(report.Issues, "signature has been invalidated: "+sig.InvalidationReason)
	}

	content, err := s.Content.Resolve(ctx, sig.Target)
	switch {
	case err != nil || content == nil:
		report.Issues = append(report.Issues, "target content could not be resolved")
	case !s.Hasher.VerifyContentHash(content.Content, sig.ContentHash):
		report.Issues = append(report.Issues, "current content hash does not match signed content hash")
	default:
		report.ContentHashMatches = true
	}

	if s.Cache != nil && s.VerifyCacheTTL > 0 {
		_ = s.Cache.Put(ctx, signatureID, report, s.VerifyCacheTTL)
	}
	return report, nil
}

// allowReauthAttempt gates completion attempts per signer in a fixed window.
// Limiter errors fail open: losing rate limiting must not block signing.
func (s *SignatureService) allowReauthAttempt(ctx context.Context, userID string) error {
	if s.Limiter == nil || s.ReauthLimit <= 0 {
		return nil
	}
	window := s.ReauthWindow
	if window <= 0 {
		window = time.Minute
	}
	decision, err := s.Limiter.Allow(ctx, "reauth:"+userID, s.ReauthLimit, window)
	if err != nil {
		return nil
	}
	if !decision.Allowed {
		return domain.ErrRateLimited
	}
	return nil
}

func (s *SignatureService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func actorFor(user *domain.User, ip, userAgent string) domain.AuditActor {
	return domain.AuditActor{
		ID:        user.ID,
		Email:     user.Email,
		IP:        ip,
		UserAgent: userAgent,
	}
}
