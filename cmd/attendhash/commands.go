package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"chainattend/internal/integrity"
	"chainattend/internal/ledger"
)

type digestCommand struct {
	env       *env
	Name      string `long:"name" description:"Attendee name" required:"true"`
	Timestamp string `long:"timestamp" description:"Unix seconds"`
	Now       bool   `long:"now" description:"Use the current time"`
}

func (c *digestCommand) Execute(_ []string) error {
	ts, err := c.timestamp()
	if err != nil {
		return err
	}
	s, err := c.env.signer()
	if err != nil {
		return err
	}
	p, err := s.New(c.Name, ts)
	if err != nil {
		return err
	}
	return json.NewEncoder(c.env.out).Encode(p)
}

func (c *digestCommand) timestamp() (int64, error) {
	switch {
	case c.Now && c.Timestamp != "":
		return 0, fmt.Errorf("use either --timestamp or --now")
	case c.Now:
		return time.Now().Unix(), nil
	case c.Timestamp == "":
		return 0, fmt.Errorf("--timestamp or --now required")
	}
	return integrity.ParseTimestamp(c.Timestamp)
}

type verifyCommand struct {
	env       *env
	Name      string `long:"name" description:"Attendee name" required:"true"`
	Timestamp string `long:"timestamp" description:"Unix seconds" required:"true"`
	Hash      string `long:"hash" description:"Digest to check" required:"true"`
}

func (c *verifyCommand) Execute(_ []string) error {
	ts, err := integrity.ParseTimestamp(c.Timestamp)
	if err != nil {
		return err
	}
	s, err := c.env.signer()
	if err != nil {
		return err
	}
	if !s.Verify(c.Name, ts, c.Hash) {
		return errMismatch
	}
	fmt.Fprintln(c.env.out, "ok")
	return nil
}

type recordsCommand struct {
	env    *env
	Ledger string `long:"ledger" description:"Ledger directory" required:"true"`
	Verify bool   `long:"verify" description:"Also check the tx chain"`
}

func (c *recordsCommand) Execute(_ []string) error {
	ctx := context.Background()
	l, err := ledger.OpenReadOnly(c.Ledger)
	if err != nil {
		return err
	}
	defer l.Close()

	if c.Verify {
		if err := l.Verify(ctx); err != nil {
			return err
		}
	}
	entries, err := ledger.All(ctx, l)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.env.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME\tDIGEST\tTX\tAPPENDED")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.Index, e.Name, e.Digest, e.Tx,
			time.Unix(e.AppendedAt, 0).UTC().Format(time.RFC3339))
	}
	return w.Flush()
}
