// Package memrepo provides an in-memory SignatureStore used in no-db mode
// and by tests. Transactions are serialized under one mutex and applied via
// snapshot-and-swap, so a failed transaction leaves no partial state and two
// racing challenge consumptions yield exactly one winner.
package memrepo

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"attestd/internal/domain"
	"attestd/internal/infra/crypto"
	"attestd/internal/usecase"
)

type Store struct {
	mu   sync.Mutex
	st   *state
	inTx bool
}

type state struct {
	challenges map[string]domain.SignatureChallenge
	tokens     map[string]string
	signatures map[string]domain.ElectronicSignature
	sigOrder   []string
	chains     map[string][]domain.AuditEvent
}

func New() *Store {
	return &Store{st: newState()}
}

func newState() *state {
	return &state{
		challenges: make(map[string]domain.SignatureChallenge),
		tokens:     make(map[string]string),
		signatures: make(map[string]domain.ElectronicSignature),
		chains:     make(map[string][]domain.AuditEvent),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.challenges {
		out.challenges[k] = v
	}
	for k, v := range s.tokens {
		out.tokens[k] = v
	}
	for k, v := range s.signatures {
		out.signatures[k] = v
	}
	out.sigOrder = append(out.sigOrder, s.sigOrder...)
	for k, v := range s.chains {
		events := make([]domain.AuditEvent, len(v))
		copy(events, v)
		out.chains[k] = events
	}
	return out
}

func (s *Store) Challenges() usecase.ChallengeRepository   { return (*challengeRepo)(s) }
func (s *Store) Signatures() usecase.SignatureRepository   { return (*signatureRepo)(s) }
func (s *Store) AuditEvents() usecase.AuditEventRepository { return (*auditRepo)(s) }

// WithTx holds the store lock for the whole function and commits by swapping
// in the mutated snapshot. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(usecase.SignatureStore) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Store{st: s.st.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

func (s *Store) lock() {
	if !s.inTx {
		s.mu.Lock()
	}
}

func (s *Store) unlock() {
	if !s.inTx {
		s.mu.Unlock()
	}
}

type challengeRepo Store

func (r *challengeRepo) Create(ctx context.Context, challenge domain.SignatureChallenge) (domain.SignatureChallenge, error) {
	s := (*Store)(r)
	s.lock()
	defer s.unlock()
	if challenge.ID == "" {
		challenge.ID = newID()
	}
	if _, exists := s.st.tokens[challenge.Token]; exists {
		return domain.SignatureChallenge{}, fmt.Errorf("challenge token already exists")
	}
	s.st.challenges[challenge.ID] = challenge
	s.st.tokens[challenge.Token] = challenge.ID
	return challenge, nil
}

func (r *challengeRepo) GetByToken(ctx context.Context, token string) (*domain.SignatureChallenge, error) {
	s := (*Store)(r)
	s.lock()
	defer s.unlock()
	id, ok := s.st.tokens[token]
	if !ok {
		return nil, nil
	}
	challenge := s.st.challenges[id]
	return &challenge, nil
}

func (r *challengeRepo) Consume(ctx context.Context, challengeID string, usedAt time.Time) error {
	s := (*Store)(r)
	s.lock()
	defer s.unlock()
	challenge, ok := s.st.challenges[challengeID]
	if !ok || challenge.IsUsed {
		return domain.ErrChallengeInvalid
	}
	challenge.IsUsed = true
	used := usedAt.UTC()
	challenge.UsedAt = &used
	s.st.challenges[challengeID] = challenge
	return nil
}

func (r *challengeRepo) DeleteExpiredUnused(ctx context.Context, before time.Time) (int64, error) {
	s := (*Store)(r)
	s.lock()
	defer s.unlock()
	var removed int64
	for id, challenge := range s.st.challenges {
		if !challenge.IsUsed && challenge.ExpiresAt.Before(before) {
			delete(s.st.challenges, id)
			delete(s.st.tokens, challenge.Token)
			removed++
		}
	}
	return removed, nil
}

type signatureRepo Store

func (r *signatureRepo) Insert(ctx context.Context, sig domain.ElectronicSignature) (domain.ElectronicSignature, error) {
	s := (*Store)(r)
	s.lock()
	defer s.unlock()
	if sig.ID == "" {
		sig.ID = newID()
	}
	s.st.signatures[sig.ID] = sig
	s.st.sigOrder = append(s.st.sigOrder, sig.ID)
	return sig, nil
}

func (r *signatureRepo) GetByID(ctx context.Context, id string) (*domain.ElectronicSignature, error) {
	s := (*Store)(r)
	s.lock()
	defer s.unlock()
	sig, ok := s.st.signatures[id]
	if !ok {
		return nil, nil
	}
	return &sig, nil
}

func (r *signatureRepo) LatestValidForTarget(ctx context.Context, target domain.SignatureTarget) (*domain.ElectronicSignature, error) {
	s := (*Store)(r)
	s.lock()
	defer s.unlock()
	for i := len(s.st.sigOrder) - 1; i >= 0; i-- {
		sig := s.st.signatures[s.st.sigOrder[i]]
		if sig.IsValid && sig.Target == target {
			return &sig, nil
		}
	}
	return nil, nil
}

func (r *signatureRepo) Invalidate(ctx context.Context, id string, at time.Time, reason string) error {
	s := (*Store)(r)
	s.lock()
	defer s.unlock()
	sig, ok := s.st.signatures[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !sig.IsValid {
		return domain.ErrSignatureInvalidated
	}
	sig.IsValid = false
	invalidated := at.UTC()
	sig.InvalidatedAt = &invalidated
	sig.InvalidationReason = reason
	s.st.signatures[id] = sig
	return nil
}

type auditRepo Store

func (r *auditRepo) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	s := (*Store)(r)
	s.lock()
	defer s.unlock()
	if event.ChainID == "" {
		event.ChainID = domain.AuditGlobalChainID
	}
	if event.ID == "" {
		event.ID = newID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.CreatedAt = event.CreatedAt.UTC()

	canonical, err := crypto.CanonicalizeAny(event.Details)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.Details = canonical
	event.DetailsHash = sha256Hex(canonical)

	chain := s.st.chains[event.ChainID]
	event.Seq = int64(len(chain)) + 1
	event.PrevEventHash = domain.AuditGenesisHash
	if len(chain) > 0 {
		event.PrevEventHash = chain[len(chain)-1].EventHash
	}
	hash, err := usecase.ComputeAuditEventHash(event)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.EventHash = hash
	s.st.chains[event.ChainID] = append(chain, event)
	return event, nil
}

func (r *auditRepo) ListByChain(ctx context.Context, chainID string, fromSeq, toSeq int64, limit int) ([]domain.AuditEvent, error) {
	s := (*Store)(r)
	s.lock()
	defer s.unlock()
	if chainID == "" {
		chainID = domain.AuditGlobalChainID
	}
	chain := s.st.chains[chainID]
	out := make([]domain.AuditEvent, 0, len(chain))
	for _, event := range chain {
		if fromSeq > 0 && event.Seq < fromSeq {
			continue
		}
		if toSeq > 0 && event.Seq > toSeq {
			continue
		}
		out = append(out, event)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TamperEvent overwrites a stored event in place, bypassing the append-only
// API. Test hook for chain verification.
func (s *Store) TamperEvent(chainID string, seq int64, mutate func(*domain.AuditEvent)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.st.chains[chainID]
	for i := range chain {
		if chain[i].Seq == seq {
			mutate(&chain[i])
			return true
		}
	}
	return false
}

func sha256Hex(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

func newID() string {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		panic(err)
	}
	raw[6] = (raw[6] & 0x0f) | 0x40
	raw[8] = (raw[8] & 0x3f) | 0x80
	hexStr := hex.EncodeToString(raw)
	return hexStr[0:8] + "-" + hexStr[8:12] + "-" + hexStr[12:16] + "-" + hexStr[16:20] + "-" + hexStr[20:32]
}
