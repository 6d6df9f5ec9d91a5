// Package assets defines the Stellar asset value type shared across the
// bribe and reward engines.
package assets

import (
	"fmt"
	"strings"
)

// Asset identifies a Stellar asset by code and issuer. The zero value is
// not valid; use Native() or New().
type Asset struct {
	Code   string
	Issuer string
}

// Native returns the native XLM asset.
func Native() Asset {
	return Asset{Code: "XLM"}
}

// New builds a non-native asset. Issuer must not be empty; use Native()
// for the native asset.
func New(code, issuer string) Asset {
	return Asset{Code: code, Issuer: issuer}
}

// IsNative reports whether a is the native asset.
func (a Asset) IsNative() bool {
	return a.Issuer == ""
}

// Parse decodes the Horizon wire form of an asset: "native" or
// "CODE:ISSUER".
func Parse(raw string) (Asset, error) {
	if raw == "native" {
		return Native(), nil
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Asset{}, fmt.Errorf("assets: malformed asset string %q", raw)
	}
	return New(parts[0], parts[1]), nil
}

// String renders the asset the way Horizon does on the wire.
func (a Asset) String() string {
	if a.IsNative() {
		return "native"
	}
	return a.Code + ":" + a.Issuer
}

// Equal reports whether a and b identify the same asset.
func (a Asset) Equal(b Asset) bool {
	return a.Code == b.Code && a.Issuer == b.Issuer
}

// Short renders a log-friendly form with the issuer elided, matching the
// source system's `short_asset` property.
func (a Asset) Short() string {
	if a.IsNative() {
		return a.Code
	}
	if len(a.Issuer) < 8 {
		return fmt.Sprintf("%s:%s", a.Code, a.Issuer)
	}
	return fmt.Sprintf("%s:%s...%s", a.Code, a.Issuer[:4], a.Issuer[len(a.Issuer)-4:])
}
