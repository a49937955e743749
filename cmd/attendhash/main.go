// attendhash computes and checks attendance digests and reads a ledger
// offline. The secret key comes from ATTENDANCE_SECRET_KEY only.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	flags "github.com/jessevdk/go-flags"

	"chainattend/internal/config"
	"chainattend/internal/integrity"
)

var errMismatch = errors.New("digest mismatch")

type options struct{}

// env is what commands need from the environment.
type env struct {
	out    io.Writer
	signer func() (integrity.Signer, error)
}

func newParser(e *env) *flags.Parser {
	p := flags.NewParser(&options{}, flags.HelpFlag|flags.PassDoubleDash)
	p.AddCommand("digest", "Compute a digest",
		"Print the JSON payload {name,timestamp,hash} for a name and timestamp.",
		&digestCommand{env: e})
	p.AddCommand("verify", "Verify a digest",
		"Exit 0 when the hash matches name and timestamp, 1 otherwise.",
		&verifyCommand{env: e})
	p.AddCommand("records", "List ledger records",
		"Read every record from a ledger directory without writing to it.",
		&recordsCommand{env: e})
	return p
}

func loadSigner() (integrity.Signer, error) {
	cfg := config.Load()
	scheme, err := integrity.ParseScheme(cfg.IntegrityScheme)
	if err != nil {
		return integrity.Signer{}, err
	}
	s, err := integrity.NewSigner(cfg.SecretKey, scheme)
	if err != nil {
		return integrity.Signer{}, errors.New("ATTENDANCE_SECRET_KEY must be set")
	}
	return s, nil
}

func main() {
	e := &env{out: os.Stdout, signer: loadSigner}
	_, err := newParser(e).Parse()
	if err == nil {
		return
	}
	var ferr *flags.Error
	switch {
	case errors.As(err, &ferr) && ferr.Type == flags.ErrHelp:
		fmt.Fprintln(os.Stdout, err)
	case errors.Is(err, errMismatch):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
