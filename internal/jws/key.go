// Package jws implements the key_i capability set (Ed25519/ES256/HS256),
// JWK rendering, RFC 7638 thumbprints, and RFC 7515 flattened-JSON JWS
// signing, including the ACME-specific protected-header assembly and
// external-account-binding nesting (spec §4.5).
package jws

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"math/big"

	"github.com/emx-mail/mailcore/internal/errs"
)

// KV is one ordered (name, JSON-string-value) pair, used everywhere this
// package needs deterministic field order instead of Go map iteration
// order (JWS protected headers and sorted public JWKs are byte-exact
// inputs to hashing and signature verification, so field order matters).
type KV struct {
	Name  string
	Value string
}

// Key is the capability set shared by all variants: emit private/public
// JWK forms, a PEM public key, sign, and report the algorithm-specific
// protected-header fields a JWS over this key must carry (e.g. "crv" for
// EdDSA).
type Key interface {
	Alg() string
	// SortedPublicJWK returns the RFC 7638 "sorted" public JWK fields in
	// lexical key order, the canonical input to the thumbprint hash.
	SortedPublicJWK() []KV
	// PrivateJWK returns the full private JWK fields (order is cosmetic;
	// this form is only ever written to the local account file).
	PrivateJWK() []KV
	ToPEMPublic() ([]byte, error)
	// Sign produces a JWS signature value (raw bytes, not yet base64url
	// encoded) over data.
	Sign(data []byte) ([]byte, error)
	// ProtectedParams returns algorithm-specific fields a protected
	// header must include beyond "alg" (e.g. EdDSA's "crv").
	ProtectedParams() []KV
	// Zero destroys private key material in place where the
	// representation allows it (symmetric keys only; Go's ecdsa/ed25519
	// private keys are immutable value types and can't be zeroized after
	// the fact, so Zero is a no-op for them).
	Zero()
}

// b64url is the unpadded base64url alphabet RFC 7515 requires everywhere.
var b64url = base64.RawURLEncoding

// B64URLDecode decodes an unpadded base64url string, the form every JWK
// field and JWS segment uses (spec §8 property 9). An invalid final
// length (len%4==1) or invalid alphabet character is a KindParam error,
// not a generic decode failure, so callers can match on it.
func B64URLDecode(s string) ([]byte, error) {
	if len(s)%4 == 1 {
		return nil, errs.Newf(errs.KindParam, "invalid base64url length %d", len(s))
	}
	b, err := b64url.DecodeString(s)
	if err != nil {
		return nil, errs.Wrap(errs.KindParam, err, "invalid base64url")
	}
	return b, nil
}

// --- Ed25519 ---------------------------------------------------------------

type ed25519Key struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEd25519 wraps an existing Ed25519 key pair.
func NewEd25519(priv ed25519.PrivateKey) Key {
	return &ed25519Key{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

// GenerateEd25519 creates a fresh Ed25519 key pair.
func GenerateEd25519() (Key, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.Wrap(errs.KindSSL, err, "generate ed25519 key")
	}
	return &ed25519Key{priv: priv, pub: pub}, nil
}

func (k *ed25519Key) Alg() string { return "EdDSA" }

func (k *ed25519Key) SortedPublicJWK() []KV {
	return []KV{
		{"crv", "Ed25519"},
		{"kty", "OKP"},
		{"x", b64url.EncodeToString(k.pub)},
	}
}

func (k *ed25519Key) PrivateJWK() []KV {
	return []KV{
		{"crv", "Ed25519"},
		{"d", b64url.EncodeToString(k.priv.Seed())},
		{"kty", "OKP"},
		{"x", b64url.EncodeToString(k.pub)},
	}
}

func (k *ed25519Key) ToPEMPublic() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(k.pub)
	if err != nil {
		return nil, errs.Wrap(errs.KindSSL, err, "marshal ed25519 public key")
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func (k *ed25519Key) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, data), nil
}

func (k *ed25519Key) ProtectedParams() []KV {
	return []KV{{"crv", "Ed25519"}}
}

func (k *ed25519Key) Zero() {}

// Ed25519FromSeed rebuilds an Ed25519 key pair from its 32-byte seed (the
// "d" field of its private JWK), for account-file rehydration.
func Ed25519FromSeed(seed []byte) (Key, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errs.Newf(errs.KindParam, "ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return NewEd25519(priv), nil
}

// --- ES256 (ECDSA P-256) ----------------------------------------------------

type es256Key struct {
	priv *ecdsa.PrivateKey
}

// NewES256 wraps an existing P-256 key pair.
func NewES256(priv *ecdsa.PrivateKey) Key { return &es256Key{priv: priv} }

// GenerateES256 creates a fresh P-256 key pair.
func GenerateES256() (Key, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errs.Wrap(errs.KindSSL, err, "generate es256 key")
	}
	return &es256Key{priv: priv}, nil
}

// fixedBytes renders n as a big-endian byte slice of exactly size bytes,
// the fixed-width encoding JWK's "x"/"y" (and the raw R/S signature
// halves) require.
func fixedBytes(n *big.Int, size int) []byte {
	b := n.Bytes()
	if len(b) >= size {
		return b[len(b)-size:]
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

func (k *es256Key) Alg() string { return "ES256" }

func (k *es256Key) SortedPublicJWK() []KV {
	return []KV{
		{"crv", "P-256"},
		{"kty", "EC"},
		{"x", b64url.EncodeToString(fixedBytes(k.priv.X, 32))},
		{"y", b64url.EncodeToString(fixedBytes(k.priv.Y, 32))},
	}
}

func (k *es256Key) PrivateJWK() []KV {
	return []KV{
		{"crv", "P-256"},
		{"d", b64url.EncodeToString(fixedBytes(k.priv.D, 32))},
		{"kty", "EC"},
		{"x", b64url.EncodeToString(fixedBytes(k.priv.X, 32))},
		{"y", b64url.EncodeToString(fixedBytes(k.priv.Y, 32))},
	}
}

func (k *es256Key) ToPEMPublic() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&k.priv.PublicKey)
	if err != nil {
		return nil, errs.Wrap(errs.KindSSL, err, "marshal es256 public key")
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// Sign runs ECDSA-SHA256 and converts the DER (r,s) output into the
// fixed-length 64-byte R‖S form RFC 7515 §3.4 requires (spec §4.5, open
// question: the DER intermediate may run up to ~72 bytes; the JWS/ACME
// emission is always exactly 64).
func (k *es256Key) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, k.priv, digest[:])
	if err != nil {
		return nil, errs.Wrap(errs.KindSSL, err, "ecdsa sign")
	}
	out := make([]byte, 64)
	copy(out[0:32], fixedBytes(r, 32))
	copy(out[32:64], fixedBytes(s, 32))
	return out, nil
}

func (k *es256Key) ProtectedParams() []KV { return nil }

func (k *es256Key) Zero() {}

// ES256FromD rebuilds a P-256 key pair from its raw 32-byte scalar (the
// "d" field of its private JWK), for account-file rehydration. The
// public point is recomputed by scalar multiplication rather than trusted
// from the file.
func ES256FromD(d []byte) (Key, error) {
	if len(d) != 32 {
		return nil, errs.Newf(errs.KindParam, "es256 d must be 32 bytes, got %d", len(d))
	}
	curve := elliptic.P256()
	priv := new(ecdsa.PrivateKey)
	priv.D = new(big.Int).SetBytes(d)
	priv.PublicKey.Curve = curve
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(d)
	return &es256Key{priv: priv}, nil
}

// --- HS256 (HMAC-SHA256) -----------------------------------------------------

type hs256Key struct {
	secret []byte
}

// NewHS256 wraps a symmetric secret for EAB signing.
func NewHS256(secret []byte) Key {
	cp := make([]byte, len(secret))
	copy(cp, secret)
	return &hs256Key{secret: cp}
}

func (k *hs256Key) Alg() string { return "HS256" }

func (k *hs256Key) SortedPublicJWK() []KV { return nil }
func (k *hs256Key) PrivateJWK() []KV      { return []KV{{"k", b64url.EncodeToString(k.secret)}, {"kty", "oct"}} }

func (k *hs256Key) ToPEMPublic() ([]byte, error) {
	return nil, errs.New(errs.KindValue, "HS256 has no public key")
}

func (k *hs256Key) Sign(data []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, k.secret)
	mac.Write(data)
	return mac.Sum(nil), nil
}

func (k *hs256Key) ProtectedParams() []KV { return nil }

func (k *hs256Key) Zero() {
	for i := range k.secret {
		k.secret[i] = 0
	}
}

// Thumbprint computes the RFC 7638 thumbprint: SHA-256 over the sorted
// public JWK rendered as compact JSON with no insignificant whitespace.
func Thumbprint(k Key) ([]byte, error) {
	fields := k.SortedPublicJWK()
	if len(fields) == 0 {
		return nil, errs.New(errs.KindValue, "key has no public JWK to thumbprint")
	}
	j := marshalObject(fields)
	sum := sha256.Sum256(j)
	return sum[:], nil
}
