// Command keygen issues license keys without a running server. Records print
// as JSON on stdout or append into a directory feed file that the server (or
// a static host) can serve as licenses.json.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"ssblic/internal/license"
	"ssblic/internal/registry"
)

type feedFile struct {
	Licenses []*license.Record `json:"licenses"`
}

func main() {
	plan := flag.String("plan", "STANDARD", "plan name (STANDARD | PRO | ELITE | CLOUD_SNIPER...)")
	email := flag.String("email", "", "customer email to stamp on the record")
	months := flag.Int("months", 12, "validity in months, 0 for lifetime")
	count := flag.Int("count", 1, "number of keys to issue")
	out := flag.String("out", "", "licenses.json feed file to append to (stdout when empty)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := run(*plan, *email, *months, *count, *out, logger); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}
}

func run(plan, email string, months, count int, out string, logger *slog.Logger) error {
	if count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", count)
	}

	store := registry.NewMemStore()
	issuer := registry.NewIssuer(store, logger)

	ctx := context.Background()
	records := make([]*license.Record, 0, count)
	for i := 0; i < count; i++ {
		rec, err := issuer.Issue(ctx, plan, email, months)
		if err != nil {
			return fmt.Errorf("issue key %d: %w", i+1, err)
		}
		records = append(records, rec)
	}

	if out == "" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	return appendToFeed(out, records)
}

// appendToFeed merges the new records into an existing feed file, creating it
// when absent. Existing records keep their position.
func appendToFeed(path string, records []*license.Record) error {
	var feed feedFile
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &feed); err != nil {
			return fmt.Errorf("parse existing feed %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	feed.Licenses = append(feed.Licenses, records...)

	data, err := json.MarshalIndent(feed, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	fmt.Printf("issued %d key(s) into %s\n", len(records), path)
	for _, rec := range records {
		fmt.Printf("  %s  plan=%s expires=%s\n", rec.Key, rec.Plan, rec.Expires)
	}
	return nil
}
