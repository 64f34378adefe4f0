package timestamp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"time"

	"attestd/internal/domain"
)

const (
	// LocalFallbackSourceID labels timestamps taken from the local clock.
	// Never produced by TSASource.
	LocalFallbackSourceID = "local_fallback"

	defaultPerServerTimeout = 5 * time.Second
)

// TSASource tries an ordered list of independent time-stamp authorities and
// returns the first answer, recording which server answered. It never
// substitutes local time: when every server fails the operation fails closed
// with domain.ErrTimeSourceUnavailable.
type TSASource struct {
	Servers          []string
	Client           *Client
	PerServerTimeout time.Duration
	DriftWarn        time.Duration
	Clock            func() time.Time
}

func NewTSASource(servers []string, perServerTimeout, driftWarn time.Duration) *TSASource {
	if perServerTimeout <= 0 {
		perServerTimeout = defaultPerServerTimeout
	}
	return &TSASource{
		Servers:          servers,
		Client:           NewClient(&http.Client{Timeout: perServerTimeout}),
		PerServerTimeout: perServerTimeout,
		DriftWarn:        driftWarn,
		Clock:            time.Now,
	}
}

func (s *TSASource) GetTimestamp(ctx context.Context) (time.Time, string, error) {
	if len(s.Servers) == 0 {
		return time.Time{}, "", fmt.Errorf("%w: no servers configured", domain.ErrTimeSourceUnavailable)
	}

	digest, nonce, err := freshQuery()
	if err != nil {
		return time.Time{}, "", err
	}
	reqDER, err := BuildRequest(digest, nonce)
	if err != nil {
		return time.Time{}, "", err
	}

	var failures []error
	for _, server := range s.Servers {
		ts, err := s.query(ctx, server, reqDER, nonce)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", server, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		s.warnOnDrift(server, ts.GenTime)
		return ts.GenTime, server, nil
	}
	return time.Time{}, "", fmt.Errorf("%w: %v", domain.ErrTimeSourceUnavailable, errors.Join(failures...))
}

func (s *TSASource) query(ctx context.Context, server string, reqDER []byte, nonce *big.Int) (*Timestamp, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.PerServerTimeout)
	defer cancel()

	respDER, err := s.Client.Request(attemptCtx, server, reqDER)
	if err != nil {
		return nil, err
	}
	ts, err := ParseResponse(respDER)
	if err != nil {
		return nil, err
	}
	if ts.Nonce != nil && ts.Nonce.Cmp(nonce) != 0 {
		return nil, errors.New("tsa nonce mismatch")
	}
	return ts, nil
}

func (s *TSASource) warnOnDrift(server string, genTime time.Time) {
	if s.DriftWarn <= 0 {
		return
	}
	now := time.Now()
	if s.Clock != nil {
		now = s.Clock()
	}
	drift := now.Sub(genTime)
	if drift < 0 {
		drift = -drift
	}
	if drift > s.DriftWarn {
		log.Printf("trusted time from %s drifts %s from local clock", server, drift)
	}
}

// freshQuery returns the SHA-256 digest of a random value plus a random
// nonce, making each timestamp request unique.
func freshQuery() ([]byte, *big.Int, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, nil, fmt.Errorf("generate timestamp query: %w", err)
	}
	sum := sha256.Sum256(raw)

	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, nil, fmt.Errorf("generate timestamp nonce: %w", err)
	}
	return sum[:], new(big.Int).SetBytes(nonceBytes), nil
}

// FallbackSource consults Primary first and falls back to Secondary only
// when the primary fails. Deployments that opt in to local time wrap a
// TSASource with a LocalFallbackSource here.
type FallbackSource struct {
	Primary interface {
		GetTimestamp(ctx context.Context) (time.Time, string, error)
	}
	Secondary interface {
		GetTimestamp(ctx context.Context) (time.Time, string, error)
	}
}

func (s *FallbackSource) GetTimestamp(ctx context.Context) (time.Time, string, error) {
	ts, source, err := s.Primary.GetTimestamp(ctx)
	if err == nil {
		return ts, source, nil
	}
	log.Printf("primary time source failed, using fallback: %v", err)
	return s.Secondary.GetTimestamp(ctx)
}

// LocalFallbackSource reads the local clock. This is a distinct,
// explicitly-constructed source for non-production use; the default signing
// path never falls back to it.
type LocalFallbackSource struct {
	Clock func() time.Time
}

func (s *LocalFallbackSource) GetTimestamp(ctx context.Context) (time.Time, string, error) {
	now := time.Now()
	if s.Clock != nil {
		now = s.Clock()
	}
	return now.UTC(), LocalFallbackSourceID, nil
}
