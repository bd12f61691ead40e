// Package acctfile loads and saves the ACME account file (spec §6:
// JSON with keys {key, kid, orders}), mirroring the teacher's
// pkgs/config.LoadConfigFile/SaveConfig/Validate load-then-validate shape
// but narrowed to this one schema instead of the full mail-account tree.
package acctfile

import (
	"encoding/json"
	"os"

	"github.com/emx-mail/mailcore/internal/errs"
	"github.com/emx-mail/mailcore/internal/jws"
)

// JWK is the on-disk JSON form of a jws.Key: whatever fields PrivateJWK
// produced, re-decoded into a map so we can rebuild the right Key variant
// from "kty"/"crv" without a union type.
type JWK map[string]string

// File is the account-file schema from spec §6.
type File struct {
	Key    JWK    `json:"key"`
	Kid    string `json:"kid"`
	Orders string `json:"orders"`
}

// Load reads and validates an account file from path.
func Load(path string) (File, error) {
	var f File
	b, err := os.ReadFile(path)
	if err != nil {
		return f, errs.Wrapf(errs.KindFS, err, "read account file %q", path)
	}
	if err := json.Unmarshal(b, &f); err != nil {
		return f, errs.Wrapf(errs.KindParam, err, "parse account file %q", path)
	}
	if err := f.Validate(); err != nil {
		return f, err
	}
	return f, nil
}

// Validate checks the account file carries everything an ACME operation
// needs: a recognizable key, and a kid (the server-issued account URL).
func (f File) Validate() error {
	if f.Key == nil {
		return errs.New(errs.KindParam, "account file missing \"key\"")
	}
	if f.Kid == "" {
		return errs.New(errs.KindParam, "account file missing \"kid\"")
	}
	if _, ok := f.Key["kty"]; !ok {
		return errs.New(errs.KindParam, "account file key missing \"kty\"")
	}
	return nil
}

// Save writes f to path as indented JSON, matching SaveConfig's
// human-readable-on-disk convention.
func Save(path string, f File) error {
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindValue, err, "marshal account file")
	}
	if err := os.WriteFile(path, b, 0600); err != nil {
		return errs.Wrapf(errs.KindFS, err, "write account file %q", path)
	}
	return nil
}

// ToJWK renders a jws.Key's private JWK fields into the File.Key map
// form, for new-account / save-after-generate flows.
func ToJWK(k jws.Key) JWK {
	m := make(JWK)
	for _, f := range k.PrivateJWK() {
		m[f.Name] = f.Value
	}
	return m
}

// ToKey reconstructs a jws.Key from a saved JWK, dispatching on "kty"/
// "crv" the way the ACME CLIs need to rehydrate the account's signing
// key from disk before every operation.
func ToKey(m JWK) (jws.Key, error) {
	kty := m["kty"]
	switch kty {
	case "OKP":
		if m["crv"] != "Ed25519" {
			return nil, errs.Newf(errs.KindParam, "unsupported OKP curve %q", m["crv"])
		}
		seed, err := b64urlDecode(m["d"])
		if err != nil {
			return nil, err
		}
		return jws.Ed25519FromSeed(seed)
	case "EC":
		if m["crv"] != "P-256" {
			return nil, errs.Newf(errs.KindParam, "unsupported EC curve %q", m["crv"])
		}
		d, err := b64urlDecode(m["d"])
		if err != nil {
			return nil, err
		}
		return jws.ES256FromD(d)
	case "oct":
		secret, err := b64urlDecode(m["k"])
		if err != nil {
			return nil, err
		}
		return jws.NewHS256(secret), nil
	default:
		return nil, errs.Newf(errs.KindParam, "unsupported key type %q", kty)
	}
}

func b64urlDecode(s string) ([]byte, error) {
	b, err := jws.B64URLDecode(s)
	if err != nil {
		return nil, errs.Wrap(errs.KindParam, err, "decode base64url jwk field")
	}
	return b, nil
}
