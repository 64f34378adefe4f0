package usecase

import (
	"context"
	"encoding/json"
	"time"

	"attestd/internal/domain"
)

// AuditExport is a self-verifiable snapshot of a chain segment. ReportHash
// is the SHA-256 over the canonical event records, so the exported artifact
// can be checked offline without the service.
type AuditExport struct {
	ChainID    string          `json:"chain_id"`
	FromSeq    int64           `json:"from_seq"`
	ToSeq      int64           `json:"to_seq"`
	ExportedAt time.Time       `json:"exported_at"`
	Events     []ExportedEvent `json:"events"`
	ReportHash string          `json:"report_hash"`
}

type ExportedEvent struct {
	ID            string          `json:"id"`
	ChainID       string          `json:"chain_id"`
	Seq           int64           `json:"seq"`
	EventType     string          `json:"event_type"`
	ActorID       string          `json:"actor_id"`
	ActorEmail    string          `json:"actor_email"`
	ActorIP       string          `json:"actor_ip,omitempty"`
	ActorAgent    string          `json:"actor_user_agent,omitempty"`
	ResourceType  string          `json:"resource_type"`
	ResourceID    string          `json:"resource_id"`
	ResourceName  string          `json:"resource_name,omitempty"`
	Details       json.RawMessage `json:"details"`
	DetailsHash   string          `json:"details_hash"`
	PrevEventHash string          `json:"prev_event_hash"`
	EventHash     string          `json:"event_hash"`
	CreatedAt     time.Time       `json:"created_at"`
}

type AuditExporter struct {
	Repo  AuditEventRepository
	Audit *AuditEmitter
	Clock Clock
}

func (x *AuditExporter) Export(ctx context.Context, actor domain.AuditActor, chainID string, fromSeq, toSeq int64) (*AuditExport, error) {
	if chainID == "" {
		chainID = domain.AuditGlobalChainID
	}
	events, err := x.Repo.ListByChain(ctx, chainID, fromSeq, toSeq, 0)
	if err != nil {
		return nil, err
	}

	export := &AuditExport{
		ChainID:    chainID,
		FromSeq:    fromSeq,
		ToSeq:      toSeq,
		ExportedAt: x.now().UTC(),
		Events:     make([]ExportedEvent, 0, len(events)),
	}
	for _, event := range events {
		details, err := detailsBytes(event.Details)
		if err != nil {
			return nil, err
		}
		export.Events = append(export.Events, ExportedEvent{
			ID:            event.ID,
			ChainID:       event.ChainID,
			Seq:           event.Seq,
			EventType:     string(event.EventType),
			ActorID:       event.Actor.ID,
			ActorEmail:    event.Actor.Email,
			ActorIP:       event.Actor.IP,
			ActorAgent:    event.Actor.UserAgent,
			ResourceType:  event.Resource.Type,
			ResourceID:    event.Resource.ID,
			ResourceName:  event.Resource.Name,
			Details:       json.RawMessage(details),
			DetailsHash:   event.DetailsHash,
			PrevEventHash: event.PrevEventHash,
			EventHash:     event.EventHash,
			CreatedAt:     event.CreatedAt.UTC(),
		})
	}

	hash, err := ComputeExportReportHash(export.Events)
	if err != nil {
		return nil, err
	}
	export.ReportHash = hash

	if x.Audit != nil {
		if err := x.Audit.EmitChainExported(ctx, actor, chainID, fromSeq, toSeq, hash); err != nil {
			return nil, err
		}
	}
	return export, nil
}

// ComputeExportReportHash hashes the event hashes in order. Each event hash
// already covers the full record, so the report hash seals the segment.
func ComputeExportReportHash(events []ExportedEvent) (string, error) {
	payload := make([]byte, 0, len(events)*65)
	for _, event := range events {
		payload = append(payload, event.EventHash...)
		payload = append(payload, '\n')
	}
	return sha256Hex(payload), nil
}

// VerifyExport re-checks an exported segment offline: the report hash and
// the hash-chain linkage of the included events.
func VerifyExport(export AuditExport) (domain.ChainReport, error) {
	hash, err := ComputeExportReportHash(export.Events)
	if err != nil {
		return domain.ChainReport{}, err
	}
	report := domain.ChainReport{ChainID: export.ChainID, IsValid: true}
	if hash != export.ReportHash {
		report.IsValid = false
		report.FirstBreak = &domain.ChainBreak{Reason: "report hash mismatch"}
		return report, nil
	}

	var prevHash string
	for i, exported := range export.Events {
		event := exported.toDomain()
		if i == 0 {
			prevHash = event.PrevEventHash
			if event.Seq == 1 && prevHash != domain.AuditGenesisHash {
				return breakAt(report, event, "first event previous_hash is not the genesis constant"), nil
			}
		}
		if event.PrevEventHash != prevHash {
			return breakAt(report, event, "previous_hash does not link to prior event"), nil
		}
		if sha256Hex([]byte(exported.Details)) != event.DetailsHash {
			return breakAt(report, event, "details hash mismatch"), nil
		}
		expected, err := ComputeAuditEventHash(event)
		if err != nil {
			return breakAt(report, event, "hash not computable: "+err.Error()), nil
		}
		if expected != event.EventHash {
			return breakAt(report, event, "event hash mismatch"), nil
		}
		prevHash = event.EventHash
		report.VerifiedEvents++
	}
	return report, nil
}

func (e ExportedEvent) toDomain() domain.AuditEvent {
	return domain.AuditEvent{
		ID:        e.ID,
		ChainID:   e.ChainID,
		Seq:       e.Seq,
		EventType: domain.AuditEventType(e.EventType),
		Actor: domain.AuditActor{
			ID:        e.ActorID,
			Email:     e.ActorEmail,
			IP:        e.ActorIP,
			UserAgent: e.ActorAgent,
		},
		Resource: domain.AuditResource{
			Type: e.ResourceType,
			ID:   e.ResourceID,
			Name: e.ResourceName,
		},
		Details:       []byte(e.Details),
		DetailsHash:   e.DetailsHash,
		PrevEventHash: e.PrevEventHash,
		EventHash:     e.EventHash,
		CreatedAt:     e.CreatedAt,
	}
}

func (x *AuditExporter) now() time.Time {
	if x.Clock != nil {
		return x.Clock()
	}
	return time.Now()
}
