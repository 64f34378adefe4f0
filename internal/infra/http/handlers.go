package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"attestd/internal/domain"
	"attestd/internal/usecase"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type targetInput struct {
	PageID          string `json:"page_id,omitempty"`
	ChangeRequestID string `json:"change_request_id,omitempty"`
}

func (t targetInput) toDomain() domain.SignatureTarget {
	return domain.SignatureTarget{
		PageID:          t.PageID,
		ChangeRequestID: t.ChangeRequestID,
	}
}

type initiateRequest struct {
	Target  targetInput `json:"target"`
	Meaning string      `json:"meaning"`
	Reason  string      `json:"reason,omitempty"`
}

type initiateResponse struct {
	ChallengeToken string `json:"challenge_token"`
	ExpiresAt      string `json:"expires_at"`
	ContentHash    string `json:"content_hash"`
	ContentPreview string `json:"content_preview,omitempty"`
}

type completeRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Password       string `json:"password"`
	Reason         string `json:"reason,omitempty"`
	AuthSessionID  string `json:"auth_session_id,omitempty"`
}

type invalidateRequest struct {
	Reason string `json:"reason"`
}

type signatureResponse struct {
	ID                  string      `json:"id"`
	Target              targetInput `json:"target"`
	SignerID            string      `json:"signer_id"`
	SignerName          string      `json:"signer_name"`
	SignerEmail         string      `json:"signer_email"`
	SignerTitle         string      `json:"signer_title,omitempty"`
	Meaning             string      `json:"meaning"`
	Reason              string      `json:"reason,omitempty"`
	ContentHash         string      `json:"content_hash"`
	ContentVersionRef   string      `json:"content_version_ref,omitempty"`
	SignedAt            string      `json:"signed_at"`
	TimestampSource     string      `json:"timestamp_source"`
	AuthMethod          string      `json:"auth_method"`
	PreviousSignatureID string      `json:"previous_signature_id,omitempty"`
	IsValid             bool        `json:"is_valid"`
	InvalidatedAt       string      `json:"invalidated_at,omitempty"`
	InvalidationReason  string      `json:"invalidation_reason,omitempty"`
}

type verificationResponse struct {
	SignatureID        string   `json:"signature_id"`
	IsValid            bool     `json:"is_valid"`
	ContentHashMatches bool     `json:"content_hash_matches"`
	Issues             []string `json:"issues"`
	CheckedAt          string   `json:"checked_at"`
}

type chainBreakResponse struct {
	EventID string `json:"event_id"`
	Seq     int64  `json:"seq"`
	Reason  string `json:"reason"`
}

type chainReportResponse struct {
	ChainID        string              `json:"chain_id"`
	IsValid        bool                `json:"is_valid"`
	VerifiedEvents int64               `json:"verified_events"`
	FirstBreak     *chainBreakResponse `json:"first_break,omitempty"`
}

func (s *Server) handleInitiate(c *gin.Context) {
	principal, ok := s.requireAuth(c)
	if !ok {
		return
	}
	if principal.Subject == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "a user identity is required to sign")
		return
	}
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	resp, err := s.signatures.Initiate(c.Request.Context(), usecase.InitiateRequest{
		UserID:    principal.Subject,
		Target:    req.Target.toDomain(),
		Meaning:   domain.SignatureMeaning(req.Meaning),
		Reason:    req.Reason,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, initiateResponse{
		ChallengeToken: resp.ChallengeToken,
		ExpiresAt:      resp.ExpiresAt.UTC().Format(time.RFC3339),
		ContentHash:    resp.ContentHash,
		ContentPreview: resp.ContentPreview,
	})
}

func (s *Server) handleComplete(c *gin.Context) {
	if _, ok := s.requireAuth(c); !ok {
		return
	}
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.ChallengeToken == "" || req.Password == "" {
		writeErrorCode(c, http.StatusBadRequest, "VALIDATION_FAILED", "challenge_token and password are required")
		return
	}
	sig, err := s.signatures.Complete(c.Request.Context(), usecase.CompleteRequest{
		ChallengeToken: req.ChallengeToken,
		Password:       req.Password,
		ReasonOverride: req.Reason,
		AuthSessionID:  req.AuthSessionID,
		IPAddress:      c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, buildSignatureResponse(*sig))
}

func (s *Server) handleInvalidate(c *gin.Context) {
	principal, ok := s.requireAuth(c)
	if !ok {
		return
	}
	if principal.Subject == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "a user identity is required")
		return
	}
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	sig, err := s.signatures.Invalidate(c.Request.Context(), usecase.InvalidateRequest{
		SignatureID: c.Param("id"),
		ActorUserID: principal.Subject,
		Reason:      req.Reason,
		IPAddress:   c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildSignatureResponse(*sig))
}

func (s *Server) handleVerifySignature(c *gin.Context) {
	if _, ok := s.requireAuth(c); !ok {
		return
	}
	report, err := s.signatures.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	issues := report.Issues
	if issues == nil {
		issues = []string{}
	}
	c.JSON(http.StatusOK, verificationResponse{
		SignatureID:        report.SignatureID,
		IsValid:            report.IsValid,
		ContentHashMatches: report.ContentHashMatches,
		Issues:             issues,
		CheckedAt:          report.CheckedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleVerifyChain(c *gin.Context) {
	if _, ok := s.requireAuth(c); !ok {
		return
	}
	chainID := c.Query("chain_id")
	if chainID == "" {
		chainID = domain.AuditGlobalChainID
	}
	opts := usecase.VerifyChainOptions{
		FromSeq:   queryInt64(c, "from_seq"),
		ToSeq:     queryInt64(c, "to_seq"),
		MaxEvents: int(queryInt64(c, "max_events")),
	}
	report, err := usecase.VerifyAuditChain(c.Request.Context(), s.auditRepo, chainID, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	out := chainReportResponse{
		ChainID:        report.ChainID,
		IsValid:        report.IsValid,
		VerifiedEvents: report.VerifiedEvents,
	}
	if report.FirstBreak != nil {
		out.FirstBreak = &chainBreakResponse{
			EventID: report.FirstBreak.EventID,
			Seq:     report.FirstBreak.Seq,
			Reason:  report.FirstBreak.Reason,
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleExportChain(c *gin.Context) {
	principal, ok := s.requireAdmin(c)
	if !ok {
		return
	}
	chainID := c.Query("chain_id")
	actor := domain.AuditActor{
		ID:        principal.Subject,
		Email:     principal.Subject,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	export, err := s.exporter.Export(c.Request.Context(), actor, chainID, queryInt64(c, "from_seq"), queryInt64(c, "to_seq"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, export)
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func buildSignatureResponse(sig domain.ElectronicSignature) signatureResponse {
	out := signatureResponse{
		ID: sig.ID,
		Target: targetInput{
			PageID:          sig.Target.PageID,
			ChangeRequestID: sig.Target.ChangeRequestID,
		},
		SignerID:            sig.SignerID,
		SignerName:          sig.SignerName,
		SignerEmail:         sig.SignerEmail,
		SignerTitle:         sig.SignerTitle,
		Meaning:             string(sig.Meaning),
		Reason:              sig.Reason,
		ContentHash:         sig.ContentHash,
		ContentVersionRef:   sig.ContentVersionRef,
		SignedAt:            sig.SignedAt.UTC().Format(time.RFC3339),
		TimestampSource:     sig.TimestampSource,
		AuthMethod:          sig.AuthMethod,
		PreviousSignatureID: sig.PreviousSignatureID,
		IsValid:             sig.IsValid,
		InvalidationReason:  sig.InvalidationReason,
	}
	if sig.InvalidatedAt != nil {
		out.InvalidatedAt = sig.InvalidatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func queryInt64(c *gin.Context, name string) int64 {
	raw := c.Query(name)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, domain.ErrChallengeExpired):
		status, code = http.StatusBadRequest, "CHALLENGE_EXPIRED"
	case errors.Is(err, domain.ErrChallengeInvalid):
		status, code = http.StatusBadRequest, "CHALLENGE_INVALID"
	case errors.Is(err, domain.ErrContentChanged):
		status, code = http.StatusConflict, "CONTENT_CHANGED"
	case errors.Is(err, domain.ErrAuthentication):
		status, code = http.StatusUnauthorized, "AUTHENTICATION_FAILED"
	case errors.Is(err, domain.ErrTimeSourceUnavailable):
		status, code = http.StatusServiceUnavailable, "TIME_SOURCE_UNAVAILABLE"
	case errors.Is(err, domain.ErrHash):
		status, code = http.StatusUnprocessableEntity, "CONTENT_NOT_HASHABLE"
	case errors.Is(err, domain.ErrSignatureInvalidated):
		status, code = http.StatusConflict, "SIGNATURE_ALREADY_INVALIDATED"
	case errors.Is(err, domain.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
