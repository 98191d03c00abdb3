// Package identity verifies the compact signed identity tokens issued by the
// website for logged-in users.
//
// Wire form: <payload_b64>.<sig_b64>, both URL-safe base64. The signature is
// HMAC-SHA256 over the payload_b64 text itself, keyed by the shared secret.
package identity

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Error is a verification failure. Kind is stable and safe to log.
type Error struct {
	Kind string
}

func (e *Error) Error() string { return "identity: " + e.Kind }

var (
	ErrMissingSecret        = &Error{Kind: "missing_server_secret"}
	ErrBadFormat            = &Error{Kind: "bad_format"}
	ErrBadSignatureEncoding = &Error{Kind: "bad_signature_encoding"}
	ErrSignatureMismatch    = &Error{Kind: "signature_mismatch"}
	ErrBadPayload           = &Error{Kind: "bad_payload"}
	ErrTokenFromFuture      = &Error{Kind: "token_from_future"}
	ErrTokenExpired         = &Error{Kind: "token_expired"}
	ErrInvalidUID           = &Error{Kind: "invalid_uid"}
)

// Kind returns the verification error kind of err, or "" if err is not one.
func Kind(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Payload is a verified token body.
type Payload struct {
	UID      int64
	IssuedAt int64
	Expires  int64
	Nonce    string
	Issuer   string
	// Claims holds every decoded field, including unknown ones.
	Claims map[string]any
}

// Verify checks token against secret at instant now. It never panics; every
// failure is one of the Err* values above.
func Verify(token string, secret []byte, maxSkew time.Duration, now time.Time) (*Payload, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	if strings.Count(token, ".") != 1 {
		return nil, ErrBadFormat
	}
	payloadB64, sigB64, _ := strings.Cut(token, ".")
	if payloadB64 == "" || sigB64 == "" {
		return nil, ErrBadFormat
	}

	sig, err := decodeSegment(sigB64)
	if err != nil {
		return nil, ErrBadSignatureEncoding
	}
	// constant-time compare
	if err := jwt.SigningMethodHS256.Verify(payloadB64, sig, secret); err != nil {
		return nil, ErrSignatureMismatch
	}

	raw, err := decodeSegment(payloadB64)
	if err != nil {
		return nil, ErrBadPayload
	}
	claims, err := decodeClaims(raw)
	if err != nil {
		return nil, ErrBadPayload
	}

	iat, ok := intClaim(claims["iat"])
	if !ok {
		return nil, ErrBadPayload
	}
	exp, ok := intClaim(claims["exp"])
	if !ok {
		return nil, ErrBadPayload
	}

	skew := int64(maxSkew / time.Second)
	unix := now.Unix()
	// skew is applied to now, never to the signed claims, so extreme
	// claim values cannot overflow
	if iat > unix+skew {
		return nil, ErrTokenFromFuture
	}
	if exp < unix-skew {
		return nil, ErrTokenExpired
	}

	uid, ok := strictInt(claims["uid"])
	if !ok || uid <= 0 {
		return nil, ErrInvalidUID
	}

	p := &Payload{
		UID:      uid,
		IssuedAt: iat,
		Expires:  exp,
		Claims:   claims,
	}
	p.Nonce, _ = claims["nonce"].(string)
	p.Issuer, _ = claims["iss"].(string)
	return p, nil
}

// Sign produces a token for claims. Used by tests and local tooling; real
// tokens come from the website.
func Sign(claims map[string]any, secret []byte) (string, error) {
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(body)
	sig, err := jwt.SigningMethodHS256.Sign(payloadB64, secret)
	if err != nil {
		return "", err
	}
	return payloadB64 + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// decodeSegment accepts URL-safe base64 with or without padding.
func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func decodeClaims(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var claims map[string]any
	if err := dec.Decode(&claims); err != nil {
		return nil, err
	}
	if claims == nil {
		return nil, errors.New("payload is not an object")
	}
	return claims, nil
}

// intClaim reads a timestamp claim. Missing means zero; fractional seconds
// truncate; numeric strings are accepted.
func intClaim(v any) (int64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		f, err := t.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// strictInt accepts only JSON integers.
func strictInt(v any) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	return i, err == nil
}
