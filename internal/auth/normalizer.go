// Package auth maps untyped credential dictionaries onto bridge.AuthDescriptor.
package auth

import (
	"strings"

	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
)

// Keys accepted in the auth dictionary.
const (
	KeyJWT           = "jwt"
	KeyAuthCode      = "authCode"
	KeyPerformStepUp = "performStepUp"
	KeyAuthType      = "authType"
)

// Normalize derives a descriptor from raw input. A nil map yields nil so
// callers can tell "no auth supplied" from "auth supplied but empty".
func Normalize(raw map[string]any) *bridge.AuthDescriptor {
	if raw == nil {
		return nil
	}

	d := &bridge.AuthDescriptor{
		Type: ParseType(stringValue(raw[KeyAuthType])),
	}

	if jwt := stringValue(raw[KeyJWT]); jwt != "" {
		d.Credential = bridge.JwtToken(jwt)
	} else if code := stringValue(raw[KeyAuthCode]); code != "" {
		d.Credential = bridge.AuthorizationCode(code)
	}

	if stepUp, ok := raw[KeyPerformStepUp].(bool); ok {
		d.StepUp = stepUp
	}
	return d
}

// FromArguments normalizes the "auth" entry of a command's arguments.
// A missing or non-object entry counts as absent.
func FromArguments(args map[string]any) *bridge.AuthDescriptor {
	if args == nil {
		return nil
	}
	raw, ok := args["auth"].(map[string]any)
	if !ok {
		return nil
	}
	return Normalize(raw)
}

// ParseType matches case-insensitively on the trimmed input. Anything that is
// neither implicit nor code selects the default.
func ParseType(s string) bridge.AuthType {
	normalized := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(normalized, "implicit"):
		return bridge.AuthImplicit
	case strings.Contains(normalized, "code"):
		return bridge.AuthCode
	default:
		return bridge.AuthAuthenticated
	}
}

// Restrict drops the flow type when the adapter cannot select one.
func Restrict(d *bridge.AuthDescriptor, caps bridge.Capabilities) *bridge.AuthDescriptor {
	if d == nil || caps.AuthTypeSelection {
		return d
	}
	restricted := *d
	restricted.Type = bridge.AuthAuthenticated
	return &restricted
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
