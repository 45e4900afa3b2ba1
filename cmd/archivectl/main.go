package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/org/sessionvault/internal/archive"
	"github.com/org/sessionvault/internal/audit"
	"github.com/org/sessionvault/internal/config"
	"github.com/org/sessionvault/internal/crypto"
	"github.com/org/sessionvault/internal/objstore"
	"github.com/org/sessionvault/internal/secrets"
	"github.com/org/sessionvault/internal/storage"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "archivectl",
	Short: "SessionVault archive operations",
	Long: "Operator CLI for the encrypted session archive service: retention\n" +
		"sweeps, expiry reports, storage statistics and blob reconciliation.\n" +
		"Talks to the metadata and object stores directly; cron decides when\n" +
		"it runs, the service itself carries no scheduler.",
	SilenceUsage: true,
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.yaml", "Path to the service config file")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json")

	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(expiringCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(reconcileCmd())
}

// signalCtx returns a context cancelled by SIGINT or SIGTERM so that
// batch commands stop between items instead of mid-delete.
func signalCtx() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// buildEngine wires the archive engine against the live stores.
func buildEngine(ctx context.Context) (*archive.Engine, func(), error) {
	cfg, err := config.Load(config.File(configFile))
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	provider, err := secrets.Load(secrets.Sources{MasterKeyFile: cfg.MasterKeyFile})
	if err != nil {
		return nil, nil, fmt.Errorf("loading secrets: %w", err)
	}
	codec, err := crypto.NewCodec(provider.MasterKey())
	if err != nil {
		provider.Close()
		return nil, nil, fmt.Errorf("initializing archive codec: %w", err)
	}

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.OpTimeout())
	if err != nil {
		provider.Close()
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	accessKey, secretKey := provider.ObjectStoreKeys()
	blobs, err := objstore.New(ctx, objstore.Config{
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    cfg.ObjectStore.UseSSL,
		Region:    cfg.ObjectStore.Region,
		Buckets:   cfg.ObjectStore.Buckets(),
		OpTimeout: cfg.OpTimeout(),
	})
	if err != nil {
		store.Close()
		provider.Close()
		return nil, nil, fmt.Errorf("connecting to object store: %w", err)
	}

	engine := archive.NewEngine(store, blobs, codec, audit.NewRecorder(store), archive.Config{
		Bucket:               cfg.ObjectStore.ArchiveBucket,
		DefaultRetentionDays: cfg.DefaultRetentionDays,
	})
	cleanup := func() {
		store.Close()
		provider.Close()
	}
	return engine, cleanup, nil
}

// --- sweep ---

func sweepCmd() *cobra.Command {
	var execute bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired standard-tier archives",
		Long: "Dry run by default: reports the archives whose retention horizon has\n" +
			"passed. With --execute each one is deleted, blob first, then metadata.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalCtx()
			defer stop()

			engine, cleanup, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if !execute {
				expired, err := engine.ExpiringSoon(ctx, 0)
				if err != nil {
					return err
				}
				printExpiring(expired)
				if outputFormat != "json" {
					fmt.Printf("\ndry run: %d archive(s) past retention; re-run with --execute to delete\n", len(expired))
				}
				return nil
			}

			deleted, err := engine.DeleteExpired(ctx)
			if err != nil {
				return fmt.Errorf("sweep stopped after %d deletion(s): %w", deleted, err)
			}
			if outputFormat == "json" {
				printJSON(map[string]int{"deleted": deleted})
			} else {
				fmt.Printf("deleted %d expired archive(s)\n", deleted)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&execute, "execute", false, "Delete instead of reporting")
	return cmd
}

// --- expiring ---

func expiringCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "expiring",
		Short: "List archives approaching their retention horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalCtx()
			defer stop()

			engine, cleanup, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			expiring, err := engine.ExpiringSoon(ctx, days)
			if err != nil {
				return err
			}
			printExpiring(expiring)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Horizon window in days")
	return cmd
}

// --- stats ---

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show archive counts and stored bytes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalCtx()
			defer stop()

			engine, cleanup, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := engine.Stats(ctx)
			if err != nil {
				return err
			}
			printStats(stats)
			return nil
		},
	}
}

// --- reconcile ---

func reconcileCmd() *cobra.Command {
	var prune bool
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Cross-check stored blobs against metadata rows",
		Long: "Reports blobs without a metadata row (orphans, prunable) and rows\n" +
			"whose blob is gone (data loss, never auto-repaired). Exits non-zero\n" +
			"when a blob is missing so cron surfaces it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalCtx()
			defer stop()

			engine, cleanup, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := engine.Reconcile(ctx, prune, grace)
			if err != nil {
				return err
			}
			printReconcile(report)
			if len(report.MissingBlobs) > 0 {
				return fmt.Errorf("%d archive(s) have metadata but no blob", len(report.MissingBlobs))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "Delete orphaned blobs older than the grace window")
	cmd.Flags().DurationVar(&grace, "grace", 24*time.Hour, "Minimum orphan age before pruning")
	return cmd
}
