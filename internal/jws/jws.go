package jws

import (
	"crypto/sha256"
	"encoding/json"
	"strings"

	"github.com/emx-mail/mailcore/internal/errs"
)

var errNoPublicJWK = errs.New(errs.KindValue, "key has no public JWK for new-account JWS")

// marshalObject renders fields as a compact JSON object in exactly the
// given order. JWS protected headers and thumbprint inputs are byte-exact
// hash/signature inputs, so this bypasses encoding/json's map-key sorting
// entirely; only the per-field value gets run through json.Marshal for
// correct string escaping.
func marshalObject(fields []KV) []byte {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		keyJSON, _ := json.Marshal(f.Name)
		valJSON, _ := json.Marshal(f.Value)
		b.Write(keyJSON)
		b.WriteByte(':')
		b.Write(valJSON)
	}
	b.WriteByte('}')
	return []byte(b.String())
}

// ProtectedHeader is the ordered set of fields a JWS protected header
// carries: alg always first, then the key's algorithm-specific extras
// (e.g. EdDSA's "crv"), then nonce, kid and url where present. This exact
// order is what spec §8's golden JWS vectors were computed against.
//
// JWK carries the requester's own public JWK fields for the one ACME
// request that has no account yet to reference by kid (new-account,
// RFC 8555 §7.3): the server identifies the (possibly new) account by
// public key instead. Kid and JWK are mutually exclusive.
type ProtectedHeader struct {
	Nonce string // omitted if empty
	Kid   string // omitted if empty
	JWK   []KV   // omitted if empty; embedded as a nested JSON object
	URL   string // omitted if empty
}

// rawField is one name/value pair where value is already-rendered JSON,
// letting buildProtected embed a nested object (JWK) alongside the
// string-valued fields marshalObject handles.
type rawField struct {
	name string
	json []byte
}

func strRawField(name, value string) rawField {
	v, _ := json.Marshal(value)
	return rawField{name: name, json: v}
}

func marshalRaw(fields []rawField) []byte {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		nameJSON, _ := json.Marshal(f.name)
		b.Write(nameJSON)
		b.WriteByte(':')
		b.Write(f.json)
	}
	b.WriteByte('}')
	return []byte(b.String())
}

func buildProtected(k Key, h ProtectedHeader) []byte {
	var fields []rawField
	fields = append(fields, strRawField("alg", k.Alg()))
	for _, p := range k.ProtectedParams() {
		fields = append(fields, strRawField(p.Name, p.Value))
	}
	if h.Nonce != "" {
		fields = append(fields, strRawField("nonce", h.Nonce))
	}
	if h.Kid != "" {
		fields = append(fields, strRawField("kid", h.Kid))
	}
	if len(h.JWK) > 0 {
		fields = append(fields, rawField{name: "jwk", json: marshalObject(h.JWK)})
	}
	if h.URL != "" {
		fields = append(fields, strRawField("url", h.URL))
	}
	return marshalRaw(fields)
}

// Flattened is the RFC 7515 §7.2.2 flattened JSON serialization.
type Flattened struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// Sign produces a flattened JWS over payload using protected as the
// already-rendered protected header bytes: b64url(protected) || "." ||
// b64url(payload), signed, emitted as {"protected","payload","signature"}
// (spec §4.5).
func Sign(k Key, protected, payload []byte) (Flattened, error) {
	p := b64url.EncodeToString(protected)
	pl := b64url.EncodeToString(payload)
	signingInput := p + "." + pl
	sig, err := k.Sign([]byte(signingInput))
	if err != nil {
		return Flattened{}, err
	}
	return Flattened{
		Protected: p,
		Payload:   pl,
		Signature: b64url.EncodeToString(sig),
	}, nil
}

// JWS builds the protected header from h and signs payload over it
// (spec §4.5's `jws(protected, payload, sign, ctx)`).
func JWS(k Key, h ProtectedHeader, payload []byte) (Flattened, error) {
	protected := buildProtected(k, h)
	return Sign(k, protected, payload)
}

// AcmeJWS is JWS with the ACME-required protected headers: alg (from the
// key), nonce, kid, and url (spec §4.6). Used for every signed ACME POST
// once an account exists.
func AcmeJWS(k Key, nonce, url, kid string, payload []byte) (Flattened, error) {
	return JWS(k, ProtectedHeader{Nonce: nonce, Kid: kid, URL: url}, payload)
}

// AcmeJWSNewAccount is AcmeJWS for the one request that precedes having a
// kid: the protected header carries the account's public JWK instead
// (RFC 8555 §7.3).
func AcmeJWSNewAccount(k Key, nonce, url string, payload []byte) (Flattened, error) {
	jwk := k.SortedPublicJWK()
	if len(jwk) == 0 {
		return Flattened{}, errNoPublicJWK
	}
	return JWS(k, ProtectedHeader{Nonce: nonce, JWK: jwk, URL: url}, payload)
}

// EAB builds the nested HS256 JWS required for ZeroSSL-style external
// account binding (RFC 8555 §7.3.4, spec §6): an inner JWS over the
// account key's public JWK, protected by {"alg":"HS256","kid":eabKID,
// "url":newAccountURL}, signed with the CA-issued eabHMACKey. The result
// is embedded verbatim as "externalAccountBinding" in the outer
// new-account payload.
func EAB(acctKey Key, eabKID string, eabHMACKey []byte, newAccountURL string) (Flattened, error) {
	jwk := acctKey.SortedPublicJWK()
	if len(jwk) == 0 {
		return Flattened{}, errNoPublicJWK
	}
	payload := marshalObject(jwk)
	hs := NewHS256(eabHMACKey)
	protected := buildProtected(hs, ProtectedHeader{Kid: eabKID, URL: newAccountURL})
	return Sign(hs, protected, payload)
}

// KeyAuthorization computes the dns-01 key authorization value:
// b64url(SHA256(token || "." || b64url(thumbprint(key)))) (spec §4.5).
func KeyAuthorization(k Key, token string) (string, error) {
	tp, err := Thumbprint(k)
	if err != nil {
		return "", err
	}
	input := token + "." + b64url.EncodeToString(tp)
	sum := sha256.Sum256([]byte(input))
	return b64url.EncodeToString(sum[:]), nil
}
