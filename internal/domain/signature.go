package domain

import "time"

type SignatureMeaning string

const (
	MeaningAuthored     SignatureMeaning = "authored"
	MeaningReviewed     SignatureMeaning = "reviewed"
	MeaningApproved     SignatureMeaning = "approved"
	MeaningAcknowledged SignatureMeaning = "acknowledged"
)

func (m SignatureMeaning) Valid() bool {
	switch m {
	case MeaningAuthored, MeaningReviewed, MeaningApproved, MeaningAcknowledged:
		return true
	}
	return false
}

// SignatureTarget references the entity being signed. Exactly one of PageID
// or ChangeRequestID must be set; the reference is by id only, the content
// module owns the entity.
type SignatureTarget struct {
	PageID          string
	ChangeRequestID string
}

func (t SignatureTarget) Validate() error {
	if (t.PageID == "") == (t.ChangeRequestID == "") {
		return ErrValidation
	}
	return nil
}

func (t SignatureTarget) Kind() string {
	if t.ChangeRequestID != "" {
		return "change_request"
	}
	return "page"
}

func (t SignatureTarget) ID() string {
	if t.ChangeRequestID != "" {
		return t.ChangeRequestID
	}
	return t.PageID
}

// SignatureChallenge is a short-lived, single-use re-authentication token
// bound to the content hash captured at initiation. Consumption is a one-way
// transition enforced by an atomic conditional update in the repository.
type SignatureChallenge struct {
	ID          string
	UserID      string
	Target      SignatureTarget
	Meaning     SignatureMeaning
	Reason      string
	ContentHash string
	Token       string
	ExpiresAt   time.Time
	IsUsed      bool
	UsedAt      *time.Time
	CreatedAt   time.Time
}

func (c SignatureChallenge) ValidAt(now time.Time) bool {
	return !c.IsUsed && !now.After(c.ExpiresAt)
}

// User is the identity collaborator's view of a signer. The signature keeps
// its own frozen copy of these fields.
type User struct {
	ID       string
	Name     string
	Email    string
	Title    string
	TenantID string
	Roles    []string
}

type ElectronicSignature struct {
	ID     string
	Target SignatureTarget

	// Signer snapshot, frozen at signing time. Later edits to the user
	// record must not change a recorded signature.
	SignerID    string
	SignerName  string
	SignerEmail string
	SignerTitle string

	Meaning           SignatureMeaning
	Reason            string
	ContentHash       string
	ContentVersionRef string

	SignedAt        time.Time
	TimestampSource string

	AuthMethod    string
	AuthSessionID string
	IPAddress     string
	UserAgent     string

	// PreviousSignatureID links multi-party sign-off into an ordered chain.
	PreviousSignatureID string

	IsValid            bool
	InvalidatedAt      *time.Time
	InvalidationReason string

	CreatedAt time.Time
}

// VerificationReport lists issues individually rather than collapsing them
// into a single boolean, so callers can explain exactly what failed.
type VerificationReport struct {
	SignatureID        string
	IsValid            bool
	ContentHashMatches bool
	Issues             []string
	CheckedAt          time.Time
}
