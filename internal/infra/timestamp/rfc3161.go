// Package timestamp acquires trusted time from RFC 3161 time-stamp
// authorities. The TSA is used as a time oracle: each request timestamps a
// fresh random digest and carries a nonce, so a replayed response cannot
// satisfy a new request.
package timestamp

import (
	"bytes"
	"context"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"
)

var oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}

// id-ct-TSTInfo, RFC 3161 §2.4.2.
var oidTSTInfo = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type messageImprint struct {
	HashAlgorithm algorithmIdentifier
	HashedMessage []byte
}

type timeStampReq struct {
	Version        int
	MessageImprint messageImprint
	Nonce          *big.Int `asn1:"optional"`
	CertReq        bool     `asn1:"optional"`
}

type pkiStatusInfo struct {
	Status       int
	StatusString asn1.RawValue  `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

type timeStampResp struct {
	Status pkiStatusInfo
	Token  asn1.RawValue `asn1:"optional"`
}

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type signedData struct {
	Version          int
	DigestAlgorithms asn1.RawValue
	EncapContent     encapsulatedContentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      asn1.RawValue
}

type encapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     []byte `asn1:"explicit,optional,tag:0"`
}

type tstInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint messageImprint
	SerialNumber   *big.Int
	GenTime        time.Time     `asn1:"generalized"`
	Accuracy       asn1.RawValue `asn1:"optional"`
	Ordering       bool          `asn1:"optional"`
	Nonce          *big.Int      `asn1:"optional"`
	TSA            asn1.RawValue `asn1:"optional,tag:0"`
	Extensions     asn1.RawValue `asn1:"optional,tag:1"`
}

// Timestamp is the parsed result of one TSA round trip.
type Timestamp struct {
	GenTime      time.Time
	SerialNumber *big.Int
	Nonce        *big.Int
}

// BuildRequest encodes a DER TimeStampReq over a 32-byte SHA-256 digest.
func BuildRequest(digest []byte, nonce *big.Int) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	req := timeStampReq{
		Version: 1,
		MessageImprint: messageImprint{
			HashAlgorithm: algorithmIdentifier{
				Algorithm: oidSHA256,
				Parameters: asn1.RawValue{
					Class: asn1.ClassUniversal,
					Tag:   asn1.TagNull,
				},
			},
			HashedMessage: digest,
		},
		Nonce:   nonce,
		CertReq: true,
	}
	return asn1.Marshal(req)
}

// ParseResponse extracts the TSTInfo from a DER TimeStampResp. Only granted
// responses (status 0 or 1) carry a token.
func ParseResponse(respDER []byte) (*Timestamp, error) {
	var resp timeStampResp
	if rest, err := asn1.Unmarshal(respDER, &resp); err != nil {
		return nil, fmt.Errorf("decode timestamp response: %w", err)
	} else if len(rest) != 0 {
		return nil, errors.New("decode timestamp response: trailing data")
	}
	if resp.Status.Status != 0 && resp.Status.Status != 1 {
		return nil, fmt.Errorf("tsa rejected request: status %d", resp.Status.Status)
	}
	if len(resp.Token.FullBytes) == 0 {
		return nil, errors.New("tsa response missing token")
	}

	var ci contentInfo
	if _, err := asn1.Unmarshal(resp.Token.FullBytes, &ci); err != nil {
		return nil, fmt.Errorf("decode token content info: %w", err)
	}
	var sd signedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("decode signed data: %w", err)
	}
	if !sd.EncapContent.EContentType.Equal(oidTSTInfo) {
		return nil, fmt.Errorf("unexpected eContent type %v", sd.EncapContent.EContentType)
	}
	var info tstInfo
	if _, err := asn1.Unmarshal(sd.EncapContent.EContent, &info); err != nil {
		return nil, fmt.Errorf("decode tst info: %w", err)
	}
	if info.GenTime.IsZero() {
		return nil, errors.New("tst info missing genTime")
	}
	return &Timestamp{
		GenTime:      info.GenTime.UTC(),
		SerialNumber: info.SerialNumber,
		Nonce:        info.Nonce,
	}, nil
}

// Client POSTs timestamp queries to a single TSA endpoint.
type Client struct {
	HTTPClient *http.Client
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 3 * time.Second}
	}
	return &Client{HTTPClient: httpClient}
}

func (c *Client) Request(ctx context.Context, tsaURL string, reqDER []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tsaURL, bytes.NewReader(reqDER))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/timestamp-query")
	httpReq.Header.Set("Accept", "application/timestamp-reply")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tsa http status %d", resp.StatusCode)
	}
	if len(body) == 0 {
		return nil, errors.New("tsa empty response")
	}
	return body, nil
}
