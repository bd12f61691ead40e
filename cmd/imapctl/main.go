// Command imapctl drives one IMAP operation per invocation: list the
// mailbox tree (optionally reconciling it into an on-disk maildir layout
// via internal/dirmgr) or fetch one message by UID and print its parsed
// headers and text body via internal/mime. Like cmd/acmectl, it wraps
// the session's callback-driven API in a single blocking round trip and
// follows the teacher's cmd/cli hand-rolled flag parsing.
package main

import (
	"fmt"
	"os"
)

const version = "1.0.0"

type app struct {
	addr     string
	insecure bool
	caPath   string
	user     string
	pass     string
	verbose  bool
}

func main() {
	a := &app{}
	args := os.Args[1:]

	for len(args) > 0 {
		switch args[0] {
		case "-a", "--addr":
			if len(args) < 2 {
				fatal("-a/--addr requires a value")
			}
			a.addr = args[1]
			args = args[2:]
		case "--ca":
			if len(args) < 2 {
				fatal("--ca requires a value")
			}
			a.caPath = args[1]
			args = args[2:]
		case "--insecure":
			a.insecure = true
			args = args[1:]
		case "-u", "--user":
			if len(args) < 2 {
				fatal("-u/--user requires a value")
			}
			a.user = args[1]
			args = args[2:]
		case "-p", "--pass":
			if len(args) < 2 {
				fatal("-p/--pass requires a value")
			}
			a.pass = args[1]
			args = args[2:]
		case "-v", "--verbose":
			a.verbose = true
			args = args[1:]
		case "-version", "--version":
			fmt.Printf("imapctl v%s\n", version)
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
	case "list":
		err = cmdList(a, cmdArgs)
	case "sync":
		err = cmdSync(a, cmdArgs)
	case "fetch":
		err = cmdFetch(a, cmdArgs)
	default:
		fatal("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "imapctl: "+format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Print(`imapctl - a minimal IMAP client

Usage:
  imapctl [global flags] COMMAND [args...]

Global flags:
  -a, --addr HOST:PORT   server address (implicit TLS, IMAPS)
  --ca PATH               trust an additional CA bundle PEM file
  --insecure              skip TLS certificate verification
  -u, --user USER         login username
  -p, --pass PASS         login password
  -v, --verbose           log every command/response to stderr
  -h, --help              show this message

Commands:
  list
        LIST the mailbox tree and print it, indented by hierarchy depth
  sync MAILDIR
        LIST the mailbox tree and reconcile MAILDIR's subdirectories to
        match it, creating and deleting folders as needed
  fetch MAILBOX UID
        SELECT MAILBOX, fetch the full body of message UID, and print
        its parsed subject, addresses, and text body
`)
}
