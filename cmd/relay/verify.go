package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/autoanosis/ai-relay-go/internal/config"
	"github.com/autoanosis/ai-relay-go/internal/identity"
)

type verifyOutput struct {
	Valid   bool           `json:"valid"`
	Kind    string         `json:"kind,omitempty"`
	UID     int64          `json:"uid,omitempty"`
	Expires string         `json:"expires,omitempty"`
	Claims  map[string]any `json:"claims,omitempty"`
}

// runVerify prints the verification outcome as JSON. A rejected token is
// reported in the output and also returned as an error for the exit code.
func runVerify(cfg *config.Config, token string, out io.Writer) error {
	return verifyAt(cfg, token, time.Now(), out)
}

func verifyAt(cfg *config.Config, token string, now time.Time, out io.Writer) error {
	payload, verr := identity.Verify(token, []byte(cfg.Identity.Secret), cfg.Identity.MaxClockSkew, now)

	res := verifyOutput{Valid: verr == nil}
	if verr != nil {
		res.Kind = identity.Kind(verr)
	} else {
		res.UID = payload.UID
		res.Expires = time.Unix(payload.Expires, 0).UTC().Format(time.RFC3339)
		res.Claims = payload.Claims
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if verr != nil {
		return fmt.Errorf("token rejected: %s", res.Kind)
	}
	return nil
}
