package timestamp

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/asn1"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"attestd/internal/domain"
)

var (
	testOIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	testOIDPolicy     = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1}
)

// buildGrantedResponse assembles a minimal DER TimeStampResp the way a real
// TSA would: TSTInfo wrapped in SignedData wrapped in ContentInfo.
func buildGrantedResponse(t *testing.T, genTime time.Time, nonce *big.Int) []byte {
	t.Helper()
	infoDER, err := asn1.Marshal(tstInfo{
		Version: 1,
		Policy:  testOIDPolicy,
		MessageImprint: messageImprint{
			HashAlgorithm: algorithmIdentifier{
				Algorithm:  oidSHA256,
				Parameters: asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagNull},
			},
			HashedMessage: bytes.Repeat([]byte{0xab}, 32),
		},
		SerialNumber: big.NewInt(42),
		GenTime:      genTime,
		Nonce:        nonce,
	})
	if err != nil {
		t.Fatalf("marshal tst info: %v", err)
	}
	return wrapToken(t, oidTSTInfo, infoDER)
}

func wrapToken(t *testing.T, contentType asn1.ObjectIdentifier, eContent []byte) []byte {
	t.Helper()
	emptySet := asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true}
	sdDER, err := asn1.Marshal(signedData{
		Version:          3,
		DigestAlgorithms: emptySet,
		EncapContent: encapsulatedContentInfo{
			EContentType: contentType,
			EContent:     eContent,
		},
		SignerInfos: emptySet,
	})
	if err != nil {
		t.Fatalf("marshal signed data: %v", err)
	}
	tokenDER, err := asn1.Marshal(contentInfo{
		ContentType: testOIDSignedData,
		Content:     asn1.RawValue{FullBytes: sdDER},
	})
	if err != nil {
		t.Fatalf("marshal content info: %v", err)
	}
	respDER, err := asn1.Marshal(timeStampResp{
		Status: pkiStatusInfo{Status: 0},
		Token:  asn1.RawValue{FullBytes: tokenDER},
	})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return respDER
}

func TestBuildRequest_RoundTrip(t *testing.T) {
	digest := sha256.Sum256([]byte("query"))
	nonce := big.NewInt(987654321)

	reqDER, err := BuildRequest(digest[:], nonce)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}

	var req timeStampReq
	rest, err := asn1.Unmarshal(reqDER, &req)
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if len(rest) != 0 {
		t.Fatal("trailing bytes after request")
	}
	if req.Version != 1 {
		t.Fatalf("version = %d, want 1", req.Version)
	}
	if !req.MessageImprint.HashAlgorithm.Algorithm.Equal(oidSHA256) {
		t.Fatalf("hash algorithm = %v, want sha256", req.MessageImprint.HashAlgorithm.Algorithm)
	}
	if !bytes.Equal(req.MessageImprint.HashedMessage, digest[:]) {
		t.Fatal("digest does not round trip")
	}
	if req.Nonce.Cmp(nonce) != 0 {
		t.Fatalf("nonce = %v, want %v", req.Nonce, nonce)
	}
	if !req.CertReq {
		t.Fatal("certReq must be set")
	}
}

func TestBuildRequest_RejectsBadDigest(t *testing.T) {
	if _, err := BuildRequest([]byte("short"), big.NewInt(1)); err == nil {
		t.Fatal("expected error for non-sha256 digest length")
	}
}

func TestParseResponse(t *testing.T) {
	genTime := time.Date(2026, 4, 2, 10, 0, 7, 0, time.UTC)
	nonce := big.NewInt(123456)
	respDER := buildGrantedResponse(t, genTime, nonce)

	ts, err := ParseResponse(respDER)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !ts.GenTime.Equal(genTime) {
		t.Fatalf("genTime = %v, want %v", ts.GenTime, genTime)
	}
	if ts.SerialNumber.Int64() != 42 {
		t.Fatalf("serial = %v, want 42", ts.SerialNumber)
	}
	if ts.Nonce.Cmp(nonce) != 0 {
		t.Fatalf("nonce = %v, want %v", ts.Nonce, nonce)
	}
}

func TestParseResponse_Rejected(t *testing.T) {
	respDER, err := asn1.Marshal(timeStampResp{Status: pkiStatusInfo{Status: 2}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := ParseResponse(respDER); err == nil {
		t.Fatal("expected error for rejected status")
	}
}

func TestParseResponse_MissingToken(t *testing.T) {
	respDER, err := asn1.Marshal(timeStampResp{Status: pkiStatusInfo{Status: 0}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := ParseResponse(respDER); err == nil {
		t.Fatal("expected error for granted response without token")
	}
}

func TestParseResponse_WrongContentType(t *testing.T) {
	respDER := wrapToken(t, testOIDPolicy, []byte{0x30, 0x00})
	if _, err := ParseResponse(respDER); err == nil {
		t.Fatal("expected error for non-TSTInfo content")
	}
}

func TestParseResponse_Garbage(t *testing.T) {
	if _, err := ParseResponse([]byte("not der")); err == nil {
		t.Fatal("expected decode error")
	}
}

// tsaHandler answers timestamp queries with a granted response echoing the
// request nonce, unless overridden.
func tsaHandler(t *testing.T, genTime time.Time, mangleNonce bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read query: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req timeStampReq
		if _, err := asn1.Unmarshal(body, &req); err != nil {
			t.Errorf("decode query: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		nonce := req.Nonce
		if mangleNonce {
			nonce = new(big.Int).Add(nonce, big.NewInt(1))
		}
		w.Header().Set("Content-Type", "application/timestamp-reply")
		w.Write(buildGrantedResponse(t, genTime, nonce))
	}
}

func TestTSASource_Failover(t *testing.T) {
	genTime := time.Date(2026, 4, 2, 10, 0, 7, 0, time.UTC)
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()
	up := httptest.NewServer(tsaHandler(t, genTime, false))
	defer up.Close()

	source := NewTSASource([]string{down.URL, up.URL}, time.Second, 0)
	ts, server, err := source.GetTimestamp(context.Background())
	if err != nil {
		t.Fatalf("get timestamp: %v", err)
	}
	if server != up.URL {
		t.Fatalf("answering server = %q, want secondary %q", server, up.URL)
	}
	if !ts.Equal(genTime) {
		t.Fatalf("timestamp = %v, want %v", ts, genTime)
	}
}

func TestTSASource_FailsClosed(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	source := NewTSASource([]string{down.URL, down.URL}, time.Second, 0)
	_, _, err := source.GetTimestamp(context.Background())
	if !errors.Is(err, domain.ErrTimeSourceUnavailable) {
		t.Fatalf("err = %v, want ErrTimeSourceUnavailable", err)
	}

	source = NewTSASource(nil, time.Second, 0)
	if _, _, err := source.GetTimestamp(context.Background()); !errors.Is(err, domain.ErrTimeSourceUnavailable) {
		t.Fatalf("err = %v, want ErrTimeSourceUnavailable with no servers", err)
	}
}

func TestTSASource_RejectsNonceMismatch(t *testing.T) {
	genTime := time.Date(2026, 4, 2, 10, 0, 7, 0, time.UTC)
	replayer := httptest.NewServer(tsaHandler(t, genTime, true))
	defer replayer.Close()

	source := NewTSASource([]string{replayer.URL}, time.Second, 0)
	_, _, err := source.GetTimestamp(context.Background())
	if !errors.Is(err, domain.ErrTimeSourceUnavailable) {
		t.Fatalf("err = %v, want fail closed on nonce mismatch", err)
	}
}

func TestFallbackSource(t *testing.T) {
	primaryTime := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	fallbackTime := time.Date(2026, 4, 2, 10, 0, 30, 0, time.UTC)
	primary := &fakeSource{at: primaryTime, source: "tsa:primary"}
	secondary := &LocalFallbackSource{Clock: func() time.Time { return fallbackTime }}
	chain := &FallbackSource{Primary: primary, Secondary: secondary}

	ts, source, err := chain.GetTimestamp(context.Background())
	if err != nil {
		t.Fatalf("get timestamp: %v", err)
	}
	if source != "tsa:primary" || !ts.Equal(primaryTime) {
		t.Fatalf("got %v from %q, want primary answer", ts, source)
	}

	primary.err = errors.New("network down")
	ts, source, err = chain.GetTimestamp(context.Background())
	if err != nil {
		t.Fatalf("get timestamp: %v", err)
	}
	if source != LocalFallbackSourceID || !ts.Equal(fallbackTime) {
		t.Fatalf("got %v from %q, want local fallback", ts, source)
	}
}

func TestLocalFallbackSource(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	at := time.Date(2026, 4, 2, 19, 0, 0, 0, loc)
	source := &LocalFallbackSource{Clock: func() time.Time { return at }}

	ts, id, err := source.GetTimestamp(context.Background())
	if err != nil {
		t.Fatalf("get timestamp: %v", err)
	}
	if id != LocalFallbackSourceID {
		t.Fatalf("source id = %q, want %q", id, LocalFallbackSourceID)
	}
	if ts.Location() != time.UTC || !ts.Equal(at) {
		t.Fatalf("timestamp = %v, want UTC instant of %v", ts, at)
	}
}

type fakeSource struct {
	at     time.Time
	source string
	err    error
}

func (s *fakeSource) GetTimestamp(ctx context.Context) (time.Time, string, error) {
	if s.err != nil {
		return time.Time{}, "", s.err
	}
	return s.at, s.source, nil
}
