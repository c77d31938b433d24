// Command catalogctl is the operator CLI for the catalog service.
//
// Usage:
//
//	catalogctl key create  --name "kiosk" [--rate-limit 100] [--expires-in 720h]
//	catalogctl key revoke  --key <raw-key>
//	catalogctl reviews     [--limit 20]
//	catalogctl check-store
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/chat"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/popularity"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/review"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/postgres"
	"github.com/joho/godotenv"
)

var errUsage = errors.New("usage")

// keyManager is satisfied by *apikey.Validator.
type keyManager interface {
	CreateKey(ctx context.Context, name string, rateLimit int, expiresAt *time.Time) (string, error)
	RevokeKey(ctx context.Context, rawKey string) error
}

// deps are the collaborators each command may need.
type deps struct {
	keys    keyManager
	reviews review.Lister
	source  store.Source
	shards  int
	now     func() time.Time
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Usage = func() { printUsage(os.Stderr) }
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	d := deps{
		keys:    apikey.NewValidator(db),
		reviews: review.NewStore(db.DB),
		source:  store.NewPostgresSource(db.DB),
		shards:  cfg.Index.Shards,
		now:     time.Now,
	}
	if err := run(ctx, d, flag.Args(), os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			printUsage(os.Stderr)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, d deps, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "key":
		if len(args) < 2 {
			return errUsage
		}
		switch args[1] {
		case "create":
			return cmdKeyCreate(ctx, d, args[2:], out)
		case "revoke":
			return cmdKeyRevoke(ctx, d, args[2:], out)
		}
	case "reviews":
		return cmdReviews(ctx, d, args[1:], out)
	case "check-store":
		return cmdCheckStore(ctx, d, out)
	}
	return fmt.Errorf("unknown command %q: %w", strings.Join(args, " "), errUsage)
}

func cmdKeyCreate(ctx context.Context, d deps, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("key create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "", "name for the api key")
	rateLimit := fs.Int("rate-limit", 100, "requests per minute")
	expiresIn := fs.Duration("expires-in", 0, "expiry duration, e.g. 720h")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%v: %w", err, errUsage)
	}
	if *name == "" {
		return errors.New("--name is required")
	}

	var expiresAt *time.Time
	if *expiresIn > 0 {
		t := d.now().Add(*expiresIn)
		expiresAt = &t
	}
	key, err := d.keys.CreateKey(ctx, *name, *rateLimit, expiresAt)
	if err != nil {
		return fmt.Errorf("creating key: %w", err)
	}

	fmt.Fprintln(out, "API key created. Store it now; it cannot be shown again.")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Key:        %s\n", key)
	fmt.Fprintf(out, "  Name:       %s\n", *name)
	fmt.Fprintf(out, "  Rate Limit: %d req/min\n", *rateLimit)
	if expiresAt != nil {
		fmt.Fprintf(out, "  Expires:    %s\n", expiresAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(out, "  Expires:    never")
	}
	return nil
}

func cmdKeyRevoke(ctx context.Context, d deps, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("key revoke", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	key := fs.String("key", "", "raw api key to revoke")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%v: %w", err, errUsage)
	}
	if *key == "" {
		return errors.New("--key is required")
	}
	if err := d.keys.RevokeKey(ctx, *key); err != nil {
		return fmt.Errorf("revoking key: %w", err)
	}
	fmt.Fprintln(out, "API key revoked.")
	return nil
}

func cmdReviews(ctx context.Context, d deps, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reviews", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 20, "number of reviews to show")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%v: %w", err, errUsage)
	}
	reviews, err := d.reviews.List(ctx, *limit)
	if err != nil {
		return err
	}
	if len(reviews) == 0 {
		fmt.Fprintln(out, "No rejected chat turns.")
		return nil
	}
	printReviews(out, reviews)
	return nil
}

func printReviews(out io.Writer, reviews []chat.Review) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REJECTED AT\tTURN\tREASON\tUTTERANCE")
	for _, r := range reviews {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.At.Format(time.RFC3339), r.TurnID, r.Reason, clip(r.Utterance, 60))
	}
	tw.Flush()
	fmt.Fprintf(out, "\nTotal: %d\n", len(reviews))
}

// cmdCheckStore loads the record store into a scratch index and reports
// what a sync would accept.
func cmdCheckStore(ctx context.Context, d deps, out io.Writer) error {
	idx := index.New(d.shards)
	pop := popularity.New(popularity.Options{Exists: idx.Contains})
	res, err := store.NewAdapter(d.source, idx, pop, nil).Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Books indexed:    %d\n", idx.Len())
	fmt.Fprintf(out, "Rows skipped:     %d\n", res.Skipped)
	fmt.Fprintf(out, "Borrows applied:  %d\n", res.Borrows)
	fmt.Fprintf(out, "Watermark:        %d\n", res.Watermark)
	if res.Skipped > 0 {
		fmt.Fprintln(out, "\nSome rows failed validation; see the store-adapter warnings above.")
	}
	return nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: catalogctl [-config path] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  key create    Create an API key")
	fmt.Fprintln(w, "  key revoke    Revoke an API key")
	fmt.Fprintln(w, "  reviews       List recent rejected chat turns")
	fmt.Fprintln(w, "  check-store   Validate the record store without touching the service")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, `  catalogctl key create --name "kiosk" --rate-limit 100 --expires-in 720h`)
	fmt.Fprintln(w, `  catalogctl key revoke --key "abc123..."`)
	fmt.Fprintln(w, `  catalogctl reviews --limit 50`)
}
