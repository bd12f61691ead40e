package main

import (
	"fmt"
	"strings"

	"github.com/emx-mail/mailcore/internal/dirmgr"
	"github.com/emx-mail/mailcore/internal/errs"
	"github.com/emx-mail/mailcore/internal/imapclient"
	"github.com/emx-mail/mailcore/internal/imapexpr"
	"github.com/emx-mail/mailcore/internal/mime"
)

func cmdList(a *app, args []string) error {
	if len(args) != 0 {
		return errs.New(errs.KindParam, "usage: list")
	}
	c, err := a.dial()
	if err != nil {
		return err
	}
	defer c.close()

	tree, err := await[[]*imapclient.ListEntry](func(cb func([]*imapclient.ListEntry, error)) {
		c.sess.List("", "*", cb)
	})
	if err != nil {
		return err
	}
	printTree(tree, 0)
	return nil
}

func printTree(entries []*imapclient.ListEntry, depth int) {
	for _, e := range entries {
		fmt.Printf("%s%s\n", strings.Repeat("  ", depth), e.Mailbox.String())
		printTree(e.Children, depth+1)
	}
}

func cmdSync(a *app, args []string) error {
	if len(args) != 1 {
		return errs.New(errs.KindParam, "usage: sync MAILDIR")
	}
	c, err := a.dial()
	if err != nil {
		return err
	}
	defer c.close()

	tree, err := await[[]*imapclient.ListEntry](func(cb func([]*imapclient.ListEntry, error)) {
		c.sess.List("", "*", cb)
	})
	if err != nil {
		return err
	}

	mgr := dirmgr.New(args[0])
	return mgr.SyncFolders(flattenTree(tree))
}

func flattenTree(entries []*imapclient.ListEntry) []imapexpr.ListResp {
	var out []imapexpr.ListResp
	for _, e := range entries {
		out = append(out, e.ListResp)
		out = append(out, flattenTree(e.Children)...)
	}
	return out
}

func cmdFetch(a *app, args []string) error {
	if len(args) != 2 {
		return errs.New(errs.KindParam, "usage: fetch MAILBOX UID")
	}
	mailbox, uidStr := args[0], args[1]
	var uid uint32
	if _, err := fmt.Sscanf(uidStr, "%d", &uid); err != nil || uid == 0 {
		return errs.Newf(errs.KindParam, "invalid UID %q", uidStr)
	}

	c, err := a.dial()
	if err != nil {
		return err
	}
	defer c.close()

	if _, err := await[*imapclient.SelectedMailbox](func(cb func(*imapclient.SelectedMailbox, error)) {
		c.sess.Select(mailbox, cb)
	}); err != nil {
		return err
	}

	attrs := imapexpr.FetchAttrs{
		Extras: []imapexpr.BodyExtra{{Section: imapexpr.Section{Name: ""}, Peek: true}},
	}
	seqs := imapexpr.SeqSet{{N1: uid, N2: uid}}
	fetched, err := await[[]*imapexpr.FetchResp](func(cb func([]*imapexpr.FetchResp, error)) {
		c.sess.Fetch(true, seqs, attrs, cb)
	})
	if err != nil {
		return err
	}
	if len(fetched) == 0 || len(fetched[0].Sections) == 0 {
		return errs.Newf(errs.KindResponse, "no body section returned for UID %d", uid)
	}

	msg, err := mime.Parse(fetched[0].Sections[0].Data)
	if err != nil {
		return err
	}

	fmt.Printf("Subject: %s\n", msg.Subject)
	fmt.Printf("From: %s\n", formatAddrs(msg.From))
	fmt.Printf("To: %s\n", formatAddrs(msg.To))
	fmt.Println()
	fmt.Println(msg.TextBody)
	return nil
}

func formatAddrs(addrs []mime.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, a.Email))
		} else {
			parts = append(parts, a.Email)
		}
	}
	return strings.Join(parts, ", ")
}
