// Command inspect lists and prints the checkpoints of an engine identity.
// Stop the daemon first when the backend is badger; it allows one process per directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"
	"time"

	"paper_go/internal/checkpoint"
	"paper_go/internal/domain"
	"paper_go/internal/engine"
	"paper_go/internal/infra"
	"paper_go/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	identity := flag.String("identity", "", "engine identity (default: from config)")
	key := flag.Int64("key", 0, "checkpoint key to print (default: latest)")
	list := flag.Bool("list", false, "list checkpoint keys instead of printing one")
	raw := flag.Bool("raw", false, "print the full checkpoint document")
	verify := flag.Bool("verify", false, "replay the journal and check it reproduces the checkpoint")
	flag.Parse()

	opts := options{identity: *identity, key: *key, list: *list, raw: *raw, verify: *verify}
	if err := run(context.Background(), os.Stdout, *configPath, opts); err != nil {
		fmt.Fprintln(os.Stderr, "inspect:", err)
		os.Exit(1)
	}
}

type options struct {
	identity string
	key      int64
	list     bool
	raw      bool
	verify   bool
}

func run(ctx context.Context, w io.Writer, configPath string, opts options) error {
	if configPath == "" {
		configPath = infra.ResolveConfigPath()
	}
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if opts.identity == "" {
		opts.identity = cfg.Engine.Identity
	}
	dir := cfg.Storage.Dir
	if dir == "" {
		dir = filepath.Join(infra.GetWorkspaceDir(), "data")
	}

	store, err := storage.Open(ctx, storage.Options{
		Backend:       cfg.Storage.Backend,
		Dir:           dir,
		RedisAddr:     cfg.Storage.RedisAddr,
		RedisPassword: cfg.Storage.RedisPassword,
		RedisDB:       cfg.Storage.RedisDB,
		RedisPrefix:   cfg.Storage.RedisPrefix,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	var replayer *engine.Replayer
	if opts.verify {
		journal, err := storage.NewSQLiteStore(infra.ResolvePaths(dir, opts.identity).Journal)
		if err != nil {
			return err
		}
		defer journal.Close()
		replayer = engine.NewReplayer(journal, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}
	return inspect(ctx, w, checkpoint.NewManager(store), replayer, opts)
}

func inspect(ctx context.Context, w io.Writer, m *checkpoint.Manager, replayer *engine.Replayer, opts options) error {
	if opts.list {
		keys, err := m.List(ctx, opts.identity)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintf(w, "%d\t%s\n", k, time.UnixMicro(k).UTC().Format(time.RFC3339Nano))
		}
		return nil
	}

	var cp checkpoint.Checkpoint
	var err error
	if opts.key == 0 {
		cp, err = m.LoadLatest(ctx, opts.identity)
	} else {
		cp, err = m.Load(ctx, opts.identity, opts.key)
	}
	if err != nil {
		return err
	}

	if replayer != nil {
		if err := replayer.Verify(ctx, cp); err != nil {
			return err
		}
		fmt.Fprintf(w, "verified: journal seq 1..%d reproduces checkpoint %d\n", cp.JournalSeq, cp.Key())
		return nil
	}

	if opts.raw {
		data, err := checkpoint.Encode(cp)
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err
	}
	return summarize(w, cp)
}

func summarize(w io.Writer, cp checkpoint.Checkpoint) error {
	st := cp.State
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "identity\t%s\n", cp.Identity)
	fmt.Fprintf(tw, "key\t%d\n", cp.Key())
	fmt.Fprintf(tw, "created_at\t%s\n", cp.CreatedAt.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(tw, "schema_version\t%d\n", cp.SchemaVersion)
	fmt.Fprintf(tw, "journal_seq\t%d\n", cp.JournalSeq)
	fmt.Fprintf(tw, "engine_time\t%s\n", st.Clock)
	fmt.Fprintf(tw, "kill_switch\t%t\n", st.Risk.KillSwitch)
	if st.Account != nil {
		fmt.Fprintf(tw, "cash\t%s\n", st.Account.Cash)
		fmt.Fprintf(tw, "value\t%s\n", st.Account.Value())
		for _, sym := range slices.Sorted(maps.Keys(st.Account.Positions)) {
			p := st.Account.Positions[sym]
			fmt.Fprintf(tw, "position %s\t%s @ %s\n", sym, p.Quantity, p.AvgEntryPrice)
		}
	}

	counts := make(map[domain.Status]int)
	for _, o := range st.Orders {
		counts[o.Status]++
	}
	fmt.Fprintf(tw, "orders\t%d\n", len(st.Orders))
	for _, status := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(tw, "  %s\t%d\n", status, counts[status])
	}
	fmt.Fprintf(tw, "pending_actions\t%d\n", len(st.Queue.Actions))
	return tw.Flush()
}
