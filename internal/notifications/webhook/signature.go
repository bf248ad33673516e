package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"notifyroute/internal/types"
)

// SignatureHeader carries the payload signature.
const SignatureHeader = "X-Notify-Signature"

// DefaultSignatureTolerance bounds the clock skew Verify accepts.
const DefaultSignatureTolerance = 5 * time.Minute

var (
	ErrSignatureMalformed = errors.New("webhook signature: malformed header")
	ErrSignatureMismatch  = errors.New("webhook signature: mismatch")
	ErrSignatureExpired   = errors.New("webhook signature: timestamp outside tolerance")
)

// Signer computes HMAC-SHA256 signatures over "{unix}.{body}".
//
// Header format: t=<unix>,v1=<hex>[,v1_old=<hex>]. During secret rotation
// the previous secret also signs, as v1_old, until PreviousExpiresAt.
type Signer struct {
	Secret            types.SecretString
	Previous          types.SecretString
	PreviousExpiresAt time.Time
}

// Enabled reports whether a secret is configured.
func (s Signer) Enabled() bool { return s.Secret.IsSet() }

// Sign returns the header value for body at now.
func (s Signer) Sign(body []byte, now time.Time) (string, error) {
	if !s.Secret.IsSet() {
		return "", fmt.Errorf("webhook signature: no secret configured")
	}
	ts := now.Unix()
	header := fmt.Sprintf("t=%d,v1=%s", ts, sign(ts, body, s.Secret.Unmask()))
	if s.Previous.IsSet() && !s.PreviousExpiresAt.IsZero() && !now.After(s.PreviousExpiresAt) {
		header += ",v1_old=" + sign(ts, body, s.Previous.Unmask())
	}
	return header, nil
}

// Verify checks header against body with the current or previous secret.
// It is what a receiving endpoint runs.
func (s Signer) Verify(body []byte, header string, now time.Time, tolerance time.Duration) error {
	var (
		ts        int64
		haveTS    bool
		v1, v1Old string
	)
	for part := range strings.SplitSeq(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrSignatureMalformed
			}
			ts, haveTS = n, true
		case "v1":
			v1 = v
		case "v1_old":
			v1Old = v
		}
	}
	if !haveTS || v1 == "" {
		return ErrSignatureMalformed
	}
	if tolerance > 0 {
		skew := now.Sub(time.Unix(ts, 0))
		if skew < -tolerance || skew > tolerance {
			return ErrSignatureExpired
		}
	}

	candidates := []string{v1}
	if v1Old != "" {
		candidates = append(candidates, v1Old)
	}
	secrets := []types.SecretString{s.Secret, s.Previous}
	for _, secret := range secrets {
		if !secret.IsSet() {
			continue
		}
		want := sign(ts, body, secret.Unmask())
		for _, got := range candidates {
			if hmac.Equal([]byte(got), []byte(want)) {
				return nil
			}
		}
	}
	return ErrSignatureMismatch
}

func sign(ts int64, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
