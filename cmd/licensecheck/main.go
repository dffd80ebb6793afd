// Command licensecheck runs the client-side license evaluation: local
// artifact first, then the cached record with its offline grace window, then
// a key lookup against the remote directory. The outcome prints as JSON so
// wrapping processes can gate on it. With -watch it keeps revalidating on
// the configured interval.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ssblic/internal/config"
	"ssblic/internal/infrastructure"
	"ssblic/internal/license"
	"ssblic/internal/security"
)

func main() {
	key := flag.String("key", "", "license key for first activation (optional once activated)")
	watch := flag.Bool("watch", false, "keep revalidating on the configured interval")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "licensecheck: %v\n", err)
		os.Exit(1)
	}
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "licensecheck: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Error("failed to create data directories", slog.String("error", err.Error()))
		os.Exit(1)
	}

	evaluator := buildEvaluator(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcome := evaluator.Evaluate(ctx, *key)
	printOutcome(outcome)

	if !*watch {
		if !outcome.Accepted() {
			os.Exit(1)
		}
		return
	}

	ticker := time.NewTicker(cfg.License.RevalidateEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Key is only needed for first activation; later rounds run
			// off the local artifact and cache.
			printOutcome(evaluator.Evaluate(ctx, ""))
		}
	}
}

func buildEvaluator(cfg *config.Config, logger *slog.Logger) *license.Evaluator {
	paths := cfg.ResolvedPaths()
	codec := license.NewObfuscatingCodec(cfg.Security.ArtifactSecret)

	var directory license.Directory
	if cfg.License.DirectoryURL != "" {
		directory = license.NewDirectoryClient(cfg.License.DirectoryURL, cfg.License.DirectoryTimeout, logger)
	}

	policy := license.DefaultPolicy()
	policy.GraceWindow = cfg.License.GraceWindow

	evaluator := license.NewEvaluator(
		security.NewFingerprintManager(),
		license.NewArtifactStore(paths.ArtifactFile, codec),
		license.NewCacheStore(paths.CacheFile),
		license.NewTamperStore(paths.TamperFile),
		directory,
		policy,
		logger,
	)
	if metrics, err := license.DefaultEvaluationMetrics(); err == nil {
		evaluator.SetMetrics(metrics)
	}
	return evaluator
}

func printOutcome(outcome license.Outcome) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(outcome)
}
