package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-gatekeeper/core"
)

const (
	DefaultTolerance = 5 * time.Minute
	signatureScheme  = "v1"
)

var (
	errMissingSecret    = errors.New("webhook secret is not configured")
	errMissingHeader    = errors.New("signature header is missing")
	errMissingTimestamp = errors.New("signature header has no timestamp")
	errMissingSignature = errors.New("signature header has no v1 signature")
	errOutsideTolerance = errors.New("signature timestamp outside tolerance")
	errNoMatch          = errors.New("no signature matches payload")
)

type Verifier interface {
	Verify(ctx context.Context, req core.InboundRequest) error
}

// Verify checks a `t=<unix>,v1=<hex>` signature header against body using
// the current time.
func Verify(body []byte, header string, secret string, tolerance time.Duration) error {
	return verifyAt(body, header, secret, tolerance, time.Now())
}

// SignPayload builds a header that Verify accepts for body at timestamp.
func SignPayload(body []byte, secret string, timestamp time.Time) string {
	unix := timestamp.Unix()
	return fmt.Sprintf("t=%d,%s=%s", unix, signatureScheme, hex.EncodeToString(computeSignature(body, secret, unix)))
}

type SignatureVerifier struct {
	Secret    string
	Tolerance time.Duration
	// Header names the request header carrying the signature.
	Header string
	Now    func() time.Time
}

func (v SignatureVerifier) VerifyPayload(body []byte, header string) error {
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	return verifyAt(body, header, v.Secret, v.Tolerance, now)
}

func (v SignatureVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	name := strings.TrimSpace(v.Header)
	if name == "" {
		name = core.DefaultSignatureHeader
	}
	return v.VerifyPayload(req.Body, headerValue(req.Headers, name))
}

func verifyAt(body []byte, header string, secret string, tolerance time.Duration, now time.Time) error {
	if strings.TrimSpace(secret) == "" {
		return core.WebhookSignatureInvalid(errMissingSecret)
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return core.WebhookSignatureInvalid(err)
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age < 0 {
		age = -age
	}
	if age > tolerance {
		return core.WebhookSignatureInvalid(errOutsideTolerance)
	}

	expected := computeSignature(body, secret, timestamp)
	for _, candidate := range signatures {
		if hmac.Equal(expected, candidate) {
			return nil
		}
	}
	return core.WebhookSignatureInvalid(errNoMatch)
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, errMissingHeader
	}
	var (
		timestamp    int64
		hasTimestamp bool
		signatures   [][]byte
	)
	for part := range strings.SplitSeq(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("invalid timestamp: %w", err)
			}
			timestamp = parsed
			hasTimestamp = true
		case signatureScheme:
			decoded, err := hex.DecodeString(strings.TrimSpace(value))
			if err != nil {
				// A malformed entry cannot match; other v1 entries still can.
				continue
			}
			signatures = append(signatures, decoded)
		}
	}
	if !hasTimestamp {
		return 0, nil, errMissingTimestamp
	}
	if len(signatures) == 0 {
		return 0, nil, errMissingSignature
	}
	return timestamp, signatures, nil
}

func computeSignature(body []byte, secret string, timestamp int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var _ Verifier = SignatureVerifier{}
