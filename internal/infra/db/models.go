package db

import "time"

type AuditEventModel struct {
	ID             string    `gorm:"type:uuid;primaryKey"`
	ChainID        string    `gorm:"uniqueIndex:idx_audit_chain_seq;not null"`
	Seq            int64     `gorm:"uniqueIndex:idx_audit_chain_seq;not null"`
	EventType      string    `gorm:"index;not null"`
	ActorID        string    `gorm:"index;not null"`
	ActorEmail     string    `gorm:"not null"`
	ActorIP        *string
	ActorUserAgent *string
	ResourceType   string    `gorm:"not null"`
	ResourceID     string    `gorm:"index;not null"`
	ResourceName   *string
	DetailsJSON    []byte    `gorm:"type:jsonb;not null"`
	DetailsHash    string    `gorm:"not null"`
	PrevEventHash  string    `gorm:"not null"`
	EventHash      string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (AuditEventModel) TableName() string { return "audit_events" }

// AuditChainSeqModel serializes appends per chain: the row is locked FOR
// UPDATE for the duration of an append transaction.
type AuditChainSeqModel struct {
	ChainID string `gorm:"primaryKey"`
	Seq     int64  `gorm:"not null"`
}

func (AuditChainSeqModel) TableName() string { return "audit_chain_seq" }

type SignatureChallengeModel struct {
	ID              string  `gorm:"type:uuid;primaryKey"`
	UserID          string  `gorm:"index;not null"`
	PageID          *string `gorm:"index"`
	ChangeRequestID *string `gorm:"index"`
	Meaning         string  `gorm:"not null"`
	Reason          *string
	ContentHash     string    `gorm:"not null"`
	ChallengeToken  string    `gorm:"uniqueIndex;not null"`
	ExpiresAt       time.Time `gorm:"index;not null"`
	IsUsed          bool      `gorm:"not null;default:false"`
	UsedAt          *time.Time
	CreatedAt       time.Time `gorm:"not null"`
}

func (SignatureChallengeModel) TableName() string { return "signature_challenges" }

type ElectronicSignatureModel struct {
	ID              string  `gorm:"type:uuid;primaryKey"`
	PageID          *string `gorm:"index"`
	ChangeRequestID *string `gorm:"index"`

	SignerID    string `gorm:"index;not null"`
	SignerName  string `gorm:"not null"`
	SignerEmail string `gorm:"not null"`
	SignerTitle *string

	Meaning           string `gorm:"not null"`
	Reason            *string
	ContentHash       string `gorm:"not null"`
	ContentVersionRef *string

	SignedAt        time.Time `gorm:"not null"`
	TimestampSource string    `gorm:"not null"`

	AuthMethod    string `gorm:"not null"`
	AuthSessionID *string
	IPAddress     *string
	UserAgent     *string

	PreviousSignatureID *string `gorm:"type:uuid;index"`

	IsValid            bool `gorm:"not null;default:true"`
	InvalidatedAt      *time.Time
	InvalidationReason *string

	CreatedAt time.Time `gorm:"not null"`
}

func (ElectronicSignatureModel) TableName() string { return "electronic_signatures" }
