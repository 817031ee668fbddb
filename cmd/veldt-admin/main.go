// veldt-admin is the maintenance CLI for a veldt persistence store: it
// inspects emptiness, counts node ids, reads and writes metadata, purges a
// namespace and exports journals or snapshots to Parquet.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/veldtgraph/veldt/internal/config"
	"github.com/veldtgraph/veldt/internal/export"
	"github.com/veldtgraph/veldt/internal/logging"
	"github.com/veldtgraph/veldt/internal/manager"
	"github.com/veldtgraph/veldt/internal/model"
)

// Version is set at build time via ldflags
var Version = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, `veldt-admin %s

Usage: veldt-admin [flags] <command> [args]

Commands:
  empty                       report whether the namespace holds any node data
  count-ids                   count distinct journal and snapshot node ids
  metadata list               print every metadata key and its value (hex)
  metadata get <key>          print one metadata value (hex)
  metadata set <key> <hex>    set a metadata key
  metadata delete <key>       delete a metadata key
  export-journals <path>      export all journal events to a Parquet file
  export-snapshots <path>     export latest snapshots to a Parquet file
  delete-all                  destroy all data in the namespace
  stats                       print per-operation latency statistics

Flags:
`, Version)
	flag.PrintDefaults()
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	backend := flag.String("backend", "", "backend (overrides config)")
	dbPath := flag.String("db", "", "duckdb database path (overrides config)")
	dsn := flag.String("dsn", "", "postgres dsn (overrides config)")
	namespace := flag.String("namespace", "", "namespace (overrides config)")
	jsonLog := flag.Bool("log-json", false, "log as JSON")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logging.Init(level, *jsonLog)

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		// Load wraps the read error, so unwrap-aware matching is required.
		if errors.Is(err, fs.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			fatal("load config: %v", err)
		}
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *dbPath != "" {
		cfg.DuckDB.Path = *dbPath
	}
	if *dsn != "" {
		cfg.Postgres.DSN = *dsn
	}
	if *namespace != "" {
		cfg.Namespace = *namespace
	}
	// Maintenance commands read ground truth directly.
	cfg.ExistenceFilter.Enabled = false
	if err := cfg.Validate(); err != nil {
		fatal("validate config: %v", err)
	}

	mgr, err := manager.New(cfg)
	if err != nil {
		fatal("open store: %v", err)
	}
	ctx := context.Background()

	// fatal skips deferred calls, so shut the backend down explicitly
	// before exiting on a failed command.
	runErr := run(ctx, mgr, cfg, flag.Args())
	stopErr := mgr.Stop(ctx)
	if runErr != nil {
		fatal("%v", runErr)
	}
	if stopErr != nil {
		fatal("shutdown: %v", stopErr)
	}
}

func run(ctx context.Context, mgr *manager.Manager, cfg *config.Config, args []string) error {
	agent := mgr.Agent()

	switch args[0] {
	case "empty":
		empty, err := agent.Empty(ctx)
		if err != nil {
			return err
		}
		fmt.Println(empty)

	case "count-ids":
		var journals, snapshots int
		if err := agent.EnumerateJournalNodeIDs(ctx, func(model.NodeID) error {
			journals++
			return nil
		}); err != nil {
			return err
		}
		if err := agent.EnumerateSnapshotNodeIDs(ctx, func(model.NodeID) error {
			snapshots++
			return nil
		}); err != nil {
			return err
		}
		fmt.Printf("journal ids: %d\nsnapshot ids: %d\n", journals, snapshots)

	case "metadata":
		return runMetadata(ctx, mgr, args[1:])

	case "export-journals":
		if len(args) != 2 {
			return fmt.Errorf("usage: export-journals <path>")
		}
		opts := export.Options{Compression: export.ParseCompressionType(cfg.Export.Compression)}
		n, err := export.Journals(ctx, agent, args[1], opts)
		if err != nil {
			return err
		}
		fmt.Printf("wrote %d events to %s\n", n, args[1])

	case "export-snapshots":
		if len(args) != 2 {
			return fmt.Errorf("usage: export-snapshots <path>")
		}
		opts := export.Options{Compression: export.ParseCompressionType(cfg.Export.Compression)}
		n, err := export.Snapshots(ctx, agent, args[1], opts)
		if err != nil {
			return err
		}
		fmt.Printf("wrote %d snapshots to %s\n", n, args[1])

	case "delete-all":
		if err := agent.DeleteAll(ctx); err != nil {
			return err
		}
		fmt.Printf("namespace %s purged\n", agent.Namespace())

	case "stats":
		stats := mgr.Stats()
		if stats == nil {
			return fmt.Errorf("latency tracking is disabled; enable it in the config")
		}
		for op, s := range stats {
			fmt.Printf("%-32s count=%.0f p50=%.3fms p95=%.3fms p99=%.3fms\n", op, s.Count, s.P50, s.P95, s.P99)
		}

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}

func runMetadata(ctx context.Context, mgr *manager.Manager, args []string) error {
	meta := mgr.Metadata()
	if len(args) < 1 {
		return fmt.Errorf("usage: metadata <list|get|set|delete> ...")
	}

	switch args[0] {
	case "list":
		all, err := meta.AllMetadata(ctx)
		if err != nil {
			return err
		}
		for key, value := range all {
			fmt.Printf("%s\t%s\n", key, hex.EncodeToString(value))
		}

	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: metadata get <key>")
		}
		value, err := meta.Metadata(ctx, args[1])
		if err != nil {
			return err
		}
		if value == nil {
			return fmt.Errorf("key %q is unset", args[1])
		}
		fmt.Println(hex.EncodeToString(value))

	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: metadata set <key> <hex>")
		}
		value, err := hex.DecodeString(args[2])
		if err != nil {
			return fmt.Errorf("decode value: %w", err)
		}
		return meta.SetMetadata(ctx, args[1], value)

	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: metadata delete <key>")
		}
		return meta.SetMetadata(ctx, args[1], nil)

	default:
		return fmt.Errorf("unknown metadata command %q", args[0])
	}
	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "veldt-admin: "+format+"\n", args...)
	os.Exit(1)
}
