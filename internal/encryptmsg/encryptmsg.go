// Package encryptmsg is a multi-recipient streaming envelope cipher: a
// fresh AES-256-GCM body key is generated per message and wrapped with
// RSA-OAEP for each recipient public key, the same overall shape as
// original_source/encrypt_msg.c's encrypter_t (one key generated per
// message, wrapped per recipient with their EVP_PKEY, then the body
// streamed through in fixed-size chunks via encrypter_update). There is
// no third-party envelope-encryption library in the example pack (see
// DESIGN.md); this is built directly on crypto/rsa, crypto/aes, and
// crypto/cipher, the same layer original_source leans on via OpenSSL's
// EVP API.
package encryptmsg

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"io"

	"github.com/emx-mail/mailcore/internal/errs"
)

var magic = [4]byte{'E', 'M', 'X', '1'}

const (
	keySize   = 32 // AES-256
	nonceSize = 12
	chunkSize = 4096
)

// Recipient is one public key a message is encrypted to, identified by
// the SHA-256 fingerprint of its DER encoding (keypair_t.fingerprint).
type Recipient struct {
	Fingerprint [sha256.Size]byte
	pub         *rsa.PublicKey
}

// LoadRecipient parses one PEM-encoded RSA public key, the on-disk form
// cli_encrypt reads one KEYFILE argument into (spec §6's encrypt_msg
// [KEYFILE…] form).
func LoadRecipient(pemBytes []byte) (Recipient, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return Recipient{}, errs.New(errs.KindParam, "no PEM block found in key file")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return Recipient{}, errs.Wrap(errs.KindSSL, err, "parse public key")
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return Recipient{}, errs.New(errs.KindParam, "only RSA public keys are supported as encryption recipients")
	}
	return Recipient{Fingerprint: sha256.Sum256(block.Bytes), pub: rsaPub}, nil
}

// Encrypter streams ciphertext to an underlying writer for one or more
// recipients: NewEncrypter writes the header (wrapped keys), each Write call
// encrypts and frames one chunk, and Close flushes the final partial
// chunk and the end-of-stream marker (encrypter_start/update/finish).
type Encrypter struct {
	w     io.Writer
	gcm   cipher.AEAD
	nonce []byte
	seq   uint64
	buf   []byte
}

// NewEncrypter generates a fresh body key, wraps it for every recipient,
// writes the envelope header to w, and returns a ready-to-use Encrypter.
func NewEncrypter(w io.Writer, recipients []Recipient) (*Encrypter, error) {
	if len(recipients) == 0 {
		return nil, errs.New(errs.KindNoKeys, "no recipients to encrypt to")
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errs.Wrap(errs.KindSSL, err, "generate body key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.KindSSL, err, "init aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.KindSSL, err, "init gcm mode")
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Wrap(errs.KindSSL, err, "generate nonce")
	}

	if err := writeHeader(w, key, nonce, recipients); err != nil {
		return nil, err
	}

	return &Encrypter{w: w, gcm: gcm, nonce: append([]byte(nil), nonce...)}, nil
}

func writeHeader(w io.Writer, key, nonce []byte, recipients []Recipient) error {
	if _, err := w.Write(magic[:]); err != nil {
		return errs.Wrap(errs.KindConn, err, "write envelope magic")
	}
	if err := writeUint16(w, uint16(len(recipients))); err != nil {
		return err
	}
	for _, r := range recipients {
		wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, r.pub, key, nil)
		if err != nil {
			return errs.Wrap(errs.KindSSL, err, "wrap body key for recipient")
		}
		if err := writeUint16(w, uint16(len(r.Fingerprint))); err != nil {
			return err
		}
		if _, err := w.Write(r.Fingerprint[:]); err != nil {
			return errs.Wrap(errs.KindConn, err, "write recipient fingerprint")
		}
		if err := writeUint16(w, uint16(len(wrapped))); err != nil {
			return err
		}
		if _, err := w.Write(wrapped); err != nil {
			return errs.Wrap(errs.KindConn, err, "write wrapped body key")
		}
	}
	if err := writeUint16(w, uint16(len(nonce))); err != nil {
		return err
	}
	if _, err := w.Write(nonce); err != nil {
		return errs.Wrap(errs.KindConn, err, "write base nonce")
	}
	return nil
}

func writeUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	if _, err := w.Write(b[:]); err != nil {
		return errs.Wrap(errs.KindConn, err, "write envelope field")
	}
	return nil
}

// Write buffers p and flushes complete chunkSize-byte chunks
// (encrypter_update: "encrypt what we read").
func (e *Encrypter) Write(p []byte) error {
	e.buf = append(e.buf, p...)
	for len(e.buf) >= chunkSize {
		if err := e.flushChunk(e.buf[:chunkSize]); err != nil {
			return err
		}
		e.buf = e.buf[chunkSize:]
	}
	return nil
}

// Close flushes any remaining buffered bytes as a final chunk and
// writes the zero-length terminator (encrypter_finish).
func (e *Encrypter) Close() error {
	if len(e.buf) > 0 {
		if err := e.flushChunk(e.buf); err != nil {
			return err
		}
		e.buf = nil
	}
	return writeUint32(e.w, 0)
}

func (e *Encrypter) flushChunk(plain []byte) error {
	nonce := chunkNonce(e.nonce, e.seq)
	e.seq++
	ct := e.gcm.Seal(nil, nonce, plain, nil)
	if err := writeUint32(e.w, uint32(len(ct))); err != nil {
		return err
	}
	_, err := e.w.Write(ct)
	if err != nil {
		return errs.Wrap(errs.KindConn, err, "write ciphertext chunk")
	}
	return nil
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	if _, err := w.Write(b[:]); err != nil {
		return errs.Wrap(errs.KindConn, err, "write chunk length")
	}
	return nil
}

// chunkNonce derives a per-chunk nonce from the envelope's base nonce by
// XORing in a big-endian sequence number over the final 8 bytes, so GCM
// never reuses a (key, nonce) pair across chunks.
func chunkNonce(base []byte, seq uint64) []byte {
	n := append([]byte(nil), base...)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	for i := 0; i < 8; i++ {
		n[nonceSize-8+i] ^= seqBytes[i]
	}
	return n
}
