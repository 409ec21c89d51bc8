package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Webhook signature scheme: the provider signs "{ts}:{rawBody}" with a
// shared secret and sends the header "ts=<unix-seconds>;h1=<hex-hmac-sha256>".

// SignatureHeader is the HTTP header carrying the webhook signature.
const SignatureHeader = "Provider-Signature"

// DefaultTolerance bounds replay exposure: payloads whose signed
// timestamp is further than this from local time are rejected. Wide
// enough to absorb reasonable clock skew.
const DefaultTolerance = 5 * time.Minute

var (
	// ErrSignatureInvalid indicates a malformed header or an HMAC mismatch.
	ErrSignatureInvalid = errors.New("provider: webhook signature invalid")
	// ErrEventStale indicates a valid signature over a timestamp outside
	// the freshness tolerance.
	ErrEventStale = errors.New("provider: webhook event stale")
)

// Sign computes the signature header value for a payload. Used by tests
// and by provider simulators.
func Sign(secret []byte, ts time.Time, body []byte) string {
	return fmt.Sprintf("ts=%d;h1=%s", ts.Unix(), hex.EncodeToString(digest(secret, ts.Unix(), body)))
}

// VerifySignature checks header authenticity and freshness for body.
// Returns ErrSignatureInvalid or ErrEventStale; authenticity is checked
// before freshness so a tampered timestamp can never pass.
func VerifySignature(secret []byte, header string, body []byte, now time.Time, tolerance time.Duration) error {
	ts, sig, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	expected := digest(secret, ts, body)
	if !hmac.Equal(expected, sig) {
		return ErrSignatureInvalid
	}

	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return ErrEventStale
	}

	return nil
}

// parseSignatureHeader splits "ts=<unix>;h1=<hex>" into its parts.
func parseSignatureHeader(header string) (int64, []byte, error) {
	var tsPart, sigPart string
	for _, field := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			tsPart = v
		case "h1":
			sigPart = v
		}
	}
	if tsPart == "" || sigPart == "" {
		return 0, nil, ErrSignatureInvalid
	}

	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, nil, ErrSignatureInvalid
	}
	sig, err := hex.DecodeString(sigPart)
	if err != nil {
		return 0, nil, ErrSignatureInvalid
	}

	return ts, sig, nil
}

func digest(secret []byte, ts int64, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d:", ts)
	mac.Write(body)
	return mac.Sum(nil)
}
