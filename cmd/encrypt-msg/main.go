// Command encrypt-msg streams stdin to stdout as a multi-recipient
// encrypted envelope, one RSA public key PEM file per positional
// argument (spec §6's encrypt_msg [KEYFILE…] form). The -d/--dir,
// --ca, --pebble flags that cmd/acmectl accepts are parsed and ignored
// here: this command never talks to the network, so they have nothing
// to apply to, but a caller scripting these binaries uniformly should
// not have to special-case this one.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/emx-mail/mailcore/internal/encryptmsg"
)

func main() {
	var keyFiles []string
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-d", "--dir", "--ca":
			i++ // accepted for uniformity with the other binaries, unused
		case "--pebble":
			// accepted for uniformity with the other binaries, unused
		case "-h", "--help":
			printUsage()
			os.Exit(0)
		default:
			keyFiles = append(keyFiles, args[i])
		}
	}

	if len(keyFiles) == 0 {
		fatal("no recipient key files given; provide one or more KEYFILE arguments")
	}

	recipients := make([]encryptmsg.Recipient, 0, len(keyFiles))
	for _, path := range keyFiles {
		pemBytes, err := os.ReadFile(path)
		if err != nil {
			fatal("read %q: %v", path, err)
		}
		r, err := encryptmsg.LoadRecipient(pemBytes)
		if err != nil {
			fatal("load recipient %q: %v", path, err)
		}
		recipients = append(recipients, r)
	}

	out := bufio.NewWriter(os.Stdout)
	enc, err := encryptmsg.NewEncrypter(out, recipients)
	if err != nil {
		fatal("%v", err)
	}

	in := bufio.NewReaderSize(os.Stdin, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if werr := enc.Write(buf[:n]); werr != nil {
				fatal("%v", werr)
			}
		}
		if err != nil {
			break
		}
	}

	if err := enc.Close(); err != nil {
		fatal("%v", err)
	}
	if err := out.Flush(); err != nil {
		fatal("flush stdout: %v", err)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "encrypt-msg: "+format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Print(`encrypt-msg - multi-recipient streaming envelope encryption

Usage:
  encrypt-msg KEYFILE [KEYFILE...]

Reads plaintext from stdin and writes an encrypted envelope to stdout,
wrapping a fresh per-message key for every recipient's RSA public key.
`)
}
