package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"attestd/internal/domain"
)

// VerifyChainOptions bounds a verification walk. Zero values mean "from the
// start", "to the head", and "no cap".
type VerifyChainOptions struct {
	FromSeq   int64
	ToSeq     int64
	MaxEvents int
}

// VerifyAuditChain walks a chain in insertion order, recomputing every hash
// from stored fields, and reports the first break. Read-only: a detected
// break is never repaired here.
func VerifyAuditChain(ctx context.Context, repo AuditEventRepository, chainID string, opts VerifyChainOptions) (domain.ChainReport, error) {
	if repo == nil {
		return domain.ChainReport{}, errors.New("audit repository required")
	}
	if chainID == "" {
		chainID = domain.AuditGlobalChainID
	}
	events, err := repo.ListByChain(ctx, chainID, opts.FromSeq, opts.ToSeq, opts.MaxEvents)
	if err != nil {
		return domain.ChainReport{}, err
	}

	report := domain.ChainReport{ChainID: chainID, IsValid: true}
	if len(events) == 0 {
		return report, nil
	}

	expectedSeq := events[0].Seq
	if opts.FromSeq == 0 && expectedSeq != 1 {
		return breakAt(report, events[0], "chain does not start at seq 1"), nil
	}
	prevHash := events[0].PrevEventHash
	if expectedSeq == 1 && prevHash != domain.AuditGenesisHash {
		return breakAt(report, events[0], "first event previous_hash is not the genesis constant"), nil
	}

	for _, event := range events {
		if event.ChainID != chainID {
			return breakAt(report, event, "chain id mismatch"), nil
		}
		if event.Seq != expectedSeq {
			return breakAt(report, event, fmt.Sprintf("seq gap: expected %d got %d", expectedSeq, event.Seq)), nil
		}
		if event.PrevEventHash != prevHash {
			return breakAt(report, event, "previous_hash does not link to prior event"), nil
		}
		detailsJSON, err := detailsBytes(event.Details)
		if err != nil {
			return breakAt(report, event, "details not decodable: "+err.Error()), nil
		}
		if sha256Hex(detailsJSON) != event.DetailsHash {
			return breakAt(report, event, "details hash mismatch"), nil
		}
		if event.CreatedAt.IsZero() {
			return breakAt(report, event, "missing created_at"), nil
		}
		expectedHash, err := ComputeAuditEventHash(event)
		if err != nil {
			return breakAt(report, event, "hash not computable: "+err.Error()), nil
		}
		if expectedHash != event.EventHash {
			return breakAt(report, event, "event hash mismatch"), nil
		}
		prevHash = event.EventHash
		expectedSeq++
		report.VerifiedEvents++
	}
	return report, nil
}

func breakAt(report domain.ChainReport, event domain.AuditEvent, reason string) domain.ChainReport {
	report.IsValid = false
	report.FirstBreak = &domain.ChainBreak{
		EventID: event.ID,
		Seq:     event.Seq,
		Reason:  reason,
	}
	return report
}

func detailsBytes(details any) ([]byte, error) {
	switch v := details.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("details must be canonical JSON bytes")
	}
}

// ComputeAuditEventHash covers every chained field of the event plus the
// previous event's hash. The canonical form is written by hand over a fixed
// key set so verification does not depend on the persistence layer.
func ComputeAuditEventHash(event domain.AuditEvent) (string, error) {
	if event.ChainID == "" || event.EventType == "" {
		return "", errors.New("audit event missing chain_id or event_type")
	}
	if event.DetailsHash == "" || event.PrevEventHash == "" {
		return "", errors.New("audit event missing details_hash or prev_event_hash")
	}
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	writeKV(buf, "actor_hash", ActorHash(event.Actor), false)
	writeKV(buf, "chain_id", event.ChainID, false)
	writeKV(buf, "created_at", event.CreatedAt.UTC().Format(time.RFC3339Nano), false)
	writeKV(buf, "details_hash", event.DetailsHash, false)
	writeKV(buf, "event_type", string(event.EventType), false)
	writeKV(buf, "prev_event_hash", event.PrevEventHash, false)
	writeKV(buf, "resource_id", event.Resource.ID, false)
	writeKV(buf, "resource_name", event.Resource.Name, false)
	writeKV(buf, "resource_type", event.Resource.Type, false)
	writeKVNumber(buf, "seq", event.Seq, false)
	writeKV(buf, "v", domain.AuditChainVersion, true)
	buf.WriteByte('}')
	return sha256Hex(buf.Bytes()), nil
}

// ActorHash folds the actor identity fields into one digest so the chain
// hash covers them without embedding raw emails or addresses twice.
func ActorHash(actor domain.AuditActor) string {
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	writeKV(buf, "email", actor.Email, false)
	writeKV(buf, "id", actor.ID, false)
	writeKV(buf, "ip", actor.IP, false)
	writeKV(buf, "user_agent", actor.UserAgent, true)
	buf.WriteByte('}')
	return sha256Hex(buf.Bytes())
}

func sha256Hex(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

func writeKV(buf *bytes.Buffer, key, value string, last bool) {
	writeJSONString(buf, key)
	buf.WriteByte(':')
	writeJSONString(buf, value)
	if !last {
		buf.WriteByte(',')
	}
}

func writeKVNumber(buf *bytes.Buffer, key string, value int64, last bool) {
	writeJSONString(buf, key)
	buf.WriteByte(':')
	buf.WriteString(strconv.FormatInt(value, 10))
	if !last {
		buf.WriteByte(',')
	}
}

func writeJSONString(buf *bytes.Buffer, value string) {
	buf.WriteByte('"')
	for _, r := range value {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexLower[r>>4])
				buf.WriteByte(hexLower[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

var hexLower = []byte("0123456789abcdef")
