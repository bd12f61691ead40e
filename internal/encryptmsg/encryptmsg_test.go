package encryptmsg

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func genRecipientPEM(t *testing.T) []byte {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestLoadRecipientRejectsNonPEM(t *testing.T) {
	if _, err := LoadRecipient([]byte("not pem")); err == nil {
		t.Fatal("expected an error for non-PEM input")
	}
}

func TestEncrypterHeaderShape(t *testing.T) {
	pemBytes := genRecipientPEM(t)
	r, err := LoadRecipient(pemBytes)
	if err != nil {
		t.Fatalf("LoadRecipient: %v", err)
	}

	var buf bytes.Buffer
	enc, err := NewEncrypter(&buf, []Recipient{r})
	if err != nil {
		t.Fatalf("NewEncrypter: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), magic[:]) {
		t.Fatalf("expected envelope to start with magic bytes")
	}

	plaintext := []byte("hello, recipient")
	if err := enc.Write(plaintext); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if buf.Len() <= len(magic) {
		t.Fatalf("expected body bytes beyond the header")
	}
}

func TestNewEncrypterRejectsNoRecipients(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewEncrypter(&buf, nil); err == nil {
		t.Fatal("expected an error with zero recipients")
	}
}
