// Command acmectl drives one RFC 8555 operation per invocation against
// an ACME directory: new-account, new-order, get-order, list-orders,
// challenge, finalize. Each subcommand is a single blocking round trip
// built on top of the async acme.Client/duvhttp.Client pair, following
// the teacher's cmd/cli hand-rolled flag parsing instead of a flag
// package.
package main

import (
	"fmt"
	"os"

	"github.com/emx-mail/mailcore/internal/acme"
)

const version = "1.0.0"

// app holds the global flags every subcommand shares.
type app struct {
	dirURL  string
	caPath  string
	pebble  bool
	verbose bool
}

func main() {
	a := &app{dirURL: acme.LetsEncrypt}
	args := os.Args[1:]

	for len(args) > 0 {
		switch args[0] {
		case "-d", "--dir":
			if len(args) < 2 {
				fatal("-d/--dir requires a value")
			}
			a.dirURL = args[1]
			args = args[2:]
		case "--ca":
			if len(args) < 2 {
				fatal("--ca requires a value")
			}
			a.caPath = args[1]
			args = args[2:]
		case "--pebble":
			a.pebble = true
			args = args[1:]
		case "-v", "--verbose":
			a.verbose = true
			args = args[1:]
		case "-version", "--version":
			fmt.Printf("acmectl v%s\n", version)
			os.Exit(0)
		case "-h", "--help", "help":
			printUsage()
			os.Exit(0)
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	var err error
	switch cmd {
	case "new-account":
		err = cmdNewAccount(a, cmdArgs)
	case "new-order":
		err = cmdNewOrder(a, cmdArgs)
	case "get-order":
		err = cmdGetOrder(a, cmdArgs)
	case "list-orders":
		err = cmdListOrders(a, cmdArgs)
	case "challenge":
		err = cmdChallenge(a, cmdArgs)
	case "finalize":
		err = cmdFinalize(a, cmdArgs)
	default:
		fatal("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "acmectl: "+format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Print(`acmectl - a minimal RFC 8555 ACME client

Usage:
  acmectl [global flags] <command> [args...]

Global flags:
  -d, --dir URL     ACME directory URL (default Let's Encrypt production)
  --ca PATH         extra CA certificate bundle to trust, PEM encoded
  --pebble          accept a self-signed directory TLS certificate (local
                    Pebble test server)
  -v, --verbose     stream status events to stderr
  -h, --help        show this message

Commands:
  new-account [--eab-kid KID --eab-key KEY] CONTACT_EMAIL
        create an ACME account, printing {key, kid, orders} as JSON.
        --eab-kid/--eab-key supply ZeroSSL-style external account
        binding credentials (KEY is the base64url HMAC secret)

  new-order ACCOUNT.JSON DOMAIN
        request a new order, printing {order, expires, authorization,
        finalize} as JSON

  get-order ACCOUNT.JSON ORDER
        fetch an existing order, printing the order object as JSON

  list-orders ACCOUNT.JSON
        list every order URL bound to the account, as a JSON array

  challenge ACCOUNT.JSON AUTHZ
        fetch the dns-01 challenge on authorization AUTHZ, tell the
        server to validate it, and block until it resolves; prints
        "ok" on success

  finalize ACCOUNT.JSON ORDER KEYOUT
        generate a key pair, submit a CSR for ORDER's domain, write the
        private key to KEYOUT, and print the issued certificate chain
`)
}
