// Command pokedex browses the Pokemon catalog from a terminal against the
// same local store the API serves from.
//
//	pokedex [flags] sync          fetch the catalog into the local store
//	pokedex [flags] browse        read queries from stdin and print windows
//	pokedex [flags] show NAME     print one Pokemon's details
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ghuser/pokedex/pkg/app"
	"github.com/ghuser/pokedex/pkg/config"
	"github.com/ghuser/pokedex/pkg/logger"
	"github.com/ghuser/pokedex/services/pokemon/application/paging"
	pokemonSvcs "github.com/ghuser/pokedex/services/pokemon/application/services"
)

// previewLimit caps how many names a browse line prints.
const previewLimit = 10

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("pokedex", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "local store: postgres, sqlite or memory")
	flags.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database file")
	flags.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres connection URL")
	flags.StringVar(&cfg.PokeAPIBaseURL, "pokeapi-url", cfg.PokeAPIBaseURL, "PokeAPI base URL")
	flags.IntVar(&cfg.PageSize, "page-size", cfg.PageSize, "items per page")
	flags.IntVar(&cfg.MaxItems, "max-items", cfg.MaxItems, "remote item ceiling")
	flags.StringVar(&cfg.LogLevel, "log-level", "warn", "debug, info, warn or error")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "Usage: pokedex [flags] sync | browse | show NAME")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return errors.New("missing command")
	}

	log := logger.NewWriter(cfg, stderr)
	a := &app.Application{Config: cfg, Logger: log}
	closeStore, err := pokemonSvcs.OpenLocalStore(ctx, a)
	if err != nil {
		return err
	}
	defer closeStore()
	svc := pokemonSvcs.New(a).Pokemon

	switch cmd := rest[0]; cmd {
	case "sync":
		return runSync(ctx, svc, stdout)
	case "show":
		if len(rest) != 2 {
			return errors.New("usage: pokedex show NAME")
		}
		return runShow(ctx, svc, rest[1], stdout)
	case "browse":
		return runBrowse(ctx, svc, stdin, stdout)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runSync(ctx context.Context, svc *pokemonSvcs.PokemonService, out io.Writer) error {
	res, err := svc.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync after %d steps: %w", res.Steps, err)
	}
	fmt.Fprintf(out, "synced %d pokemon in %d steps\n", res.Items, res.Steps)
	return nil
}

func runShow(ctx context.Context, svc *pokemonSvcs.PokemonService, name string, out io.Writer) error {
	for res := range svc.WatchDetails(ctx, name) {
		switch r := res.(type) {
		case pokemonSvcs.DetailLoading:
			fmt.Fprintln(out, "loading...")
		case pokemonSvcs.DetailSuccess:
			d := r.Details
			fmt.Fprintf(out, "#%d %s\n", d.ID, d.Name)
			fmt.Fprintf(out, "image: %s\n", d.ImageURL)
			fmt.Fprintf(out, "types: %s\n", strings.Join(d.Types, ", "))
			fmt.Fprintf(out, "abilities: %s\n", strings.Join(d.Abilities, ", "))
			for _, st := range d.Stats {
				fmt.Fprintf(out, "  %-16s %d\n", st.Name, st.Value)
			}
		case pokemonSvcs.DetailError:
			return errors.New(r.Message)
		}
	}
	return nil
}

// runBrowse drives one query router from stdin. A line sets the query, an
// empty line loads the next page, ":refresh" reloads and ":quit" exits.
// Every delivered window is printed as it arrives.
func runBrowse(ctx context.Context, svc *pokemonSvcs.PokemonService, in io.Reader, out io.Writer) error {
	router := svc.NewRouter()
	defer router.Close()

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for snap := range router.Snapshots() {
			printSnapshot(out, snap)
		}
	}()
	router.Start()

	lines := bufio.NewScanner(in)
	for lines.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := lines.Text()
		var err error
		switch strings.TrimSpace(line) {
		case ":quit":
			router.Close()
			<-printed
			return nil
		case ":refresh":
			err = router.Refresh(ctx)
		case "":
			err = router.LoadMore(ctx)
		default:
			router.SetQuery(line)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	router.Close()
	<-printed
	return lines.Err()
}

func printSnapshot(out io.Writer, snap paging.Snapshot) {
	names := make([]string, 0, min(len(snap.Items), previewLimit))
	for _, p := range snap.Items[:min(len(snap.Items), previewLimit)] {
		names = append(names, p.Name)
	}
	more := ""
	if len(snap.Items) > previewLimit {
		more = fmt.Sprintf(" (+%d)", len(snap.Items)-previewLimit)
	}
	fmt.Fprintf(out, "[%d] %q %d items refresh=%s append=%s: %s%s\n",
		snap.Generation, snap.Query, len(snap.Items),
		paging.StateName(snap.LoadStates.Refresh), paging.StateName(snap.LoadStates.Append),
		strings.Join(names, ", "), more)
}
