package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/autoanosis/ai-relay-go/internal/config"
	"github.com/autoanosis/ai-relay-go/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyAt(t *testing.T) {
	cfg := &config.Config{Identity: config.IdentityConfig{Secret: "s3cret", MaxClockSkew: time.Minute}}
	now := time.Unix(1_700_000_000, 0)

	tok, err := identity.Sign(map[string]any{
		"uid": 9,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}, []byte("s3cret"))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, verifyAt(cfg, tok, now, &out))

	var res verifyOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.True(t, res.Valid)
	assert.Equal(t, int64(9), res.UID)
	assert.Equal(t, "2023-11-14T23:13:20Z", res.Expires)

	out.Reset()
	err = verifyAt(cfg, tok, now.Add(2*time.Hour), &out)
	assert.EqualError(t, err, "token rejected: token_expired")
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.False(t, res.Valid)
	assert.Equal(t, "token_expired", res.Kind)
}
