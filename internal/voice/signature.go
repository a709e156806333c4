package voice

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

// SignatureHeader carries the webhook signature.
const SignatureHeader = "layercode-signature"

// DefaultSignatureTolerance is how far a signed timestamp may drift from now.
const DefaultSignatureTolerance = 5 * time.Minute

var (
	ErrMissingSignature   = errors.New("webhook signature missing")
	ErrMalformedSignature = errors.New("webhook signature malformed")
	ErrInvalidSignature   = errors.New("webhook signature mismatch")
	ErrSignatureExpired   = errors.New("webhook signature timestamp outside tolerance")
)

// Sign returns the header value for body signed at ts: "t=<unix>,v1=<hex>",
// where the MAC covers "<unix>.<body>".
func Sign(secret string, body []byte, ts time.Time) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + hex.EncodeToString(mac(secret, t, body))
}

// VerifySignature checks header against body. A non-positive tolerance
// disables the timestamp window.
func VerifySignature(secret, header string, body []byte, now time.Time, tolerance time.Duration) error {
	if header == "" {
		return ErrMissingSignature
	}
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrMalformedSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrMalformedSignature, ts)
	}
	if tolerance > 0 {
		drift := now.Sub(time.Unix(unix, 0))
		if drift > tolerance || drift < -tolerance {
			return ErrSignatureExpired
		}
	}

	want := mac(secret, ts, body)
	for _, sig := range sigs {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, want) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func mac(secret, ts string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts))
	h.Write([]byte{'.'})
	h.Write(body)
	return h.Sum(nil)
}
