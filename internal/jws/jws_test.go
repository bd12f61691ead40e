package jws

import (
	"crypto/ed25519"
	"encoding/json"
	"testing"
)

// ed25519TestSeed is the RFC 8037 Appendix A.1 example private key, the
// same vector the original C test suite (libacme/test_jws.c) signs
// "some-special-text" with (spec §8 property 6).
var ed25519TestSeed = []byte{
	0x9d, 0x61, 0xb1, 0x9d, 0xef, 0xfd, 0x5a, 0x60, 0xba, 0x84, 0x4a, 0xf4, 0x92, 0xec, 0x2c, 0xc4,
	0x44, 0x49, 0xc5, 0x69, 0x7b, 0x32, 0x69, 0x19, 0x70, 0x3b, 0xac, 0x03, 0x1c, 0xae, 0x7f, 0x60,
}

func TestEd25519JWSVector(t *testing.T) {
	k := NewEd25519(ed25519.NewKeyFromSeed(ed25519TestSeed))

	out, err := JWS(k, ProtectedHeader{
		Nonce: "xyz",
		Kid:   "https://kid.com",
		URL:   "https://url.com",
	}, []byte("some-special-text"))
	if err != nil {
		t.Fatal(err)
	}

	const wantProtected = "eyJhbGciOiJFZERTQSIsImNydiI6IkVkMjU1MTkiLCJub25jZSI6Inh5eiIsImtpZCI6Imh0dHBzOi8va2lkLmNvbSIsInVybCI6Imh0dHBzOi8vdXJsLmNvbSJ9"
	const wantPayload = "c29tZS1zcGVjaWFsLXRleHQ"
	const wantSignature = "Acc54mE0ULBUjF6ZuDZD0fy2n6A1GM8Vot1HnUNbUI8ObSDEVGxCL9u4f8N9ylJM4hEl9uXk7lhE5URM_8m5Cg"

	if out.Protected != wantProtected {
		t.Errorf("protected = %q, want %q", out.Protected, wantProtected)
	}
	if out.Payload != wantPayload {
		t.Errorf("payload = %q, want %q", out.Payload, wantPayload)
	}
	if out.Signature != wantSignature {
		t.Errorf("signature = %q, want %q", out.Signature, wantSignature)
	}
}

func TestHS256JWSVector(t *testing.T) {
	k := NewHS256([]byte("topsecret"))

	out, err := JWS(k, ProtectedHeader{
		Kid: "mykey",
		URL: "https://url.com",
	}, []byte("some-special-text"))
	if err != nil {
		t.Fatal(err)
	}

	const wantSignature = "zktRfmRfvlKhX7KnI-Z-GVevVEsRRbWRZ4gHB8BsUpE"
	if out.Signature != wantSignature {
		t.Errorf("signature = %q, want %q", out.Signature, wantSignature)
	}
}

func TestThumbprintAndKeyAuthorization(t *testing.T) {
	k := NewEd25519(ed25519.NewKeyFromSeed(ed25519TestSeed))
	tp1, err := Thumbprint(k)
	if err != nil {
		t.Fatal(err)
	}
	tp2, err := Thumbprint(k)
	if err != nil {
		t.Fatal(err)
	}
	if string(tp1) != string(tp2) {
		t.Fatal("thumbprint is not deterministic")
	}
	ka, err := KeyAuthorization(k, "token123")
	if err != nil {
		t.Fatal(err)
	}
	if ka == "" {
		t.Fatal("empty key authorization")
	}
}

func TestBase64URLRoundTrip(t *testing.T) {
	data := []byte{0, 1, 2, 3, 250, 251, 252, 253, 254, 255}
	enc := b64url.EncodeToString(data)
	dec, err := B64URLDecode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if string(dec) != string(data) {
		t.Fatalf("roundtrip mismatch: got %x want %x", dec, data)
	}
	if _, err := B64URLDecode("a"); err == nil {
		t.Fatal("expected error for len%4==1")
	}
	if _, err := B64URLDecode("!!!!"); err == nil {
		t.Fatal("expected error for invalid alphabet")
	}
}

func TestSortedPublicJWKHasAllFields(t *testing.T) {
	k, err := GenerateES256()
	if err != nil {
		t.Fatal(err)
	}
	j := marshalObject(k.SortedPublicJWK())
	var m map[string]any
	if err := json.Unmarshal(j, &m); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"crv", "kty", "x", "y"} {
		if _, ok := m[want]; !ok {
			t.Errorf("missing field %q in %s", want, j)
		}
	}
}
