package identity

import (
	"encoding/base64"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSecret = []byte("shared-secret")
	testNow    = time.Unix(1_700_000_000, 0)
	testSkew   = 60 * time.Second
)

func signed(t *testing.T, claims map[string]any) string {
	t.Helper()
	tok, err := Sign(claims, testSecret)
	require.NoError(t, err)
	return tok
}

func validClaims() map[string]any {
	return map[string]any{
		"uid":   42,
		"iat":   testNow.Unix() - 10,
		"exp":   testNow.Unix() + 300,
		"nonce": "abc123",
		"iss":   "autoanosis.com",
	}
}

func TestVerify_Valid(t *testing.T) {
	p, err := Verify(signed(t, validClaims()), testSecret, testSkew, testNow)
	require.NoError(t, err)

	assert.Equal(t, int64(42), p.UID)
	assert.Equal(t, testNow.Unix()-10, p.IssuedAt)
	assert.Equal(t, testNow.Unix()+300, p.Expires)
	assert.Equal(t, "abc123", p.Nonce)
	assert.Equal(t, "autoanosis.com", p.Issuer)
	assert.Len(t, p.Claims, 5)
}

func TestVerify_PaddedSegments(t *testing.T) {
	tok := signed(t, validClaims())
	payload, sig, _ := strings.Cut(tok, ".")
	raw, err := base64.RawURLEncoding.DecodeString(sig)
	require.NoError(t, err)

	padded := payload + "." + base64.URLEncoding.EncodeToString(raw)
	_, err = Verify(padded, testSecret, testSkew, testNow)
	assert.NoError(t, err)
}

func TestVerify_FlippedSignatureByte(t *testing.T) {
	tok := signed(t, validClaims())
	payload, sig, _ := strings.Cut(tok, ".")
	raw, err := base64.RawURLEncoding.DecodeString(sig)
	require.NoError(t, err)

	for i := range raw {
		flipped := append([]byte(nil), raw...)
		flipped[i] ^= 0x01
		bad := payload + "." + base64.RawURLEncoding.EncodeToString(flipped)
		_, err := Verify(bad, testSecret, testSkew, testNow)
		assert.ErrorIs(t, err, ErrSignatureMismatch, "byte %d", i)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	_, err := Verify(signed(t, validClaims()), []byte("other"), testSkew, testNow)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	skew := int64(testSkew / time.Second)

	claims := validClaims()
	claims["exp"] = testNow.Unix() - skew
	_, err := Verify(signed(t, claims), testSecret, testSkew, testNow)
	assert.NoError(t, err)

	claims["exp"] = testNow.Unix() - skew - 1
	_, err = Verify(signed(t, claims), testSecret, testSkew, testNow)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerify_IssuedAtBoundary(t *testing.T) {
	skew := int64(testSkew / time.Second)

	claims := validClaims()
	claims["iat"] = testNow.Unix() + skew
	_, err := Verify(signed(t, claims), testSecret, testSkew, testNow)
	assert.NoError(t, err)

	claims["iat"] = testNow.Unix() + skew + 1
	_, err = Verify(signed(t, claims), testSecret, testSkew, testNow)
	assert.ErrorIs(t, err, ErrTokenFromFuture)
}

func TestVerify_ErrorKinds(t *testing.T) {
	b64 := base64.RawURLEncoding.EncodeToString

	withUID := func(uid any) string {
		c := validClaims()
		c["uid"] = uid
		return signed(t, c)
	}
	withTimes := func(iat, exp int64) string {
		c := validClaims()
		c["iat"] = iat
		c["exp"] = exp
		return signed(t, c)
	}
	// correctly signed arbitrary bytes, so payload parsing is reached
	rawSigned := func(body string) string {
		p := b64([]byte(body))
		sig, err := jwt.SigningMethodHS256.Sign(p, testSecret)
		require.NoError(t, err)
		return p + "." + b64(sig)
	}

	cases := []struct {
		name   string
		token  string
		secret []byte
		want   *Error
	}{
		{"missing secret", signed(t, validClaims()), nil, ErrMissingSecret},
		{"empty token", "", testSecret, ErrBadFormat},
		{"no separator", "abc", testSecret, ErrBadFormat},
		{"two separators", "a.b.c", testSecret, ErrBadFormat},
		{"empty signature", "abc.", testSecret, ErrBadFormat},
		{"bad signature encoding", "abc.!!!", testSecret, ErrBadSignatureEncoding},
		{"bad payload json", rawSigned("{not json"), testSecret, ErrBadPayload},
		{"payload not object", rawSigned("[1,2]"), testSecret, ErrBadPayload},
		{"payload null", rawSigned("null"), testSecret, ErrBadPayload},
		{"exp not numeric", rawSigned(`{"uid":1,"iat":0,"exp":"soon"}`), testSecret, ErrBadPayload},
		{"missing exp", rawSigned(`{"uid":1,"iat":0}`), testSecret, ErrTokenExpired},
		{"zero uid", withUID(0), testSecret, ErrInvalidUID},
		{"negative uid", withUID(-5), testSecret, ErrInvalidUID},
		{"string uid", withUID("42"), testSecret, ErrInvalidUID},
		{"float uid", withUID(4.5), testSecret, ErrInvalidUID},
		{"missing uid", rawSigned(`{"iat":1700000000,"exp":1700000100}`), testSecret, ErrInvalidUID},
		{"iat max int64", withTimes(math.MaxInt64, testNow.Unix()+300), testSecret, ErrTokenFromFuture},
		{"exp min int64", withTimes(testNow.Unix()-10, math.MinInt64), testSecret, ErrTokenExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Verify(tc.token, tc.secret, testSkew, testNow)
			assert.Nil(t, p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v want %v", err, tc.want)
			assert.Equal(t, tc.want.Kind, Kind(err))
		})
	}
}

func TestVerify_ExtremeTimestampsAccepted(t *testing.T) {
	claims := validClaims()
	claims["iat"] = int64(math.MinInt64)
	claims["exp"] = int64(math.MaxInt64)

	p, err := Verify(signed(t, claims), testSecret, testSkew, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), p.IssuedAt)
	assert.Equal(t, int64(math.MaxInt64), p.Expires)
}

func TestVerify_TimestampStringsAccepted(t *testing.T) {
	claims := validClaims()
	claims["exp"] = "1700000100"
	claims["iat"] = 1699999990.7
	p, err := Verify(signed(t, claims), testSecret, testSkew, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000100), p.Expires)
	assert.Equal(t, int64(1699999990), p.IssuedAt)
}

func TestKind_NonIdentityError(t *testing.T) {
	assert.Equal(t, "", Kind(errors.New("boom")))
	assert.Equal(t, "", Kind(nil))
}
