// Package auth issues the bearer keys accounts sign in with and maps roles
// to the resources they may read or write.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// KeyKind tells keys handed to people apart from keys made for fixtures.
type KeyKind string

const (
	KeyLive KeyKind = "live"
	KeyTest KeyKind = "test"
)

const (
	keyBrand     = "cdk_"
	keySecretLen = 32
	keyAlphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// Prefix is the readable head of a key of this kind, e.g. "cdk_live_".
func (k KeyKind) Prefix() string {
	return keyBrand + string(k) + "_"
}

// ParseKeyKind accepts "live", "test" or empty, which means live.
func ParseKeyKind(s string) (KeyKind, error) {
	switch KeyKind(strings.TrimSpace(s)) {
	case "", KeyLive:
		return KeyLive, nil
	case KeyTest:
		return KeyTest, nil
	}
	return "", fmt.Errorf("invalid key kind: %s", s)
}

// IssueKey returns a new raw key and the digest the store keeps. Only the
// digest is persisted; the raw key is shown to the caller once.
func IssueKey(kind KeyKind) (raw, digest string, err error) {
	kind, err = ParseKeyKind(string(kind))
	if err != nil {
		return "", "", err
	}
	secret, err := randomSecret(keySecretLen)
	if err != nil {
		return "", "", err
	}
	raw = kind.Prefix() + secret
	return raw, HashKey(raw), nil
}

// WellFormed reports whether raw has the shape of a key this server
// issues, so junk tokens are refused without a store lookup.
func WellFormed(raw string) (KeyKind, bool) {
	for _, kind := range []KeyKind{KeyLive, KeyTest} {
		secret, ok := strings.CutPrefix(raw, kind.Prefix())
		if !ok {
			continue
		}
		if len(secret) != keySecretLen || strings.Trim(secret, keyAlphabet) != "" {
			return "", false
		}
		return kind, true
	}
	return "", false
}

// HashKey is the hex sha256 of a raw key, the form accounts are looked up by.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomSecret(n int) (string, error) {
	limit := big.NewInt(int64(len(keyAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for range n {
		i, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("random: %w", err)
		}
		b.WriteByte(keyAlphabet[i.Int64()])
	}
	return b.String(), nil
}
