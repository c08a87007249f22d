// Command redis-server wires configuration, logging, the keyspace, RDB
// bootstrap, replication, and the accept loop together into a running
// process. Grounded on the teacher's cmd/server/main.go for the
// signal-driven graceful shutdown shape, with flag parsing replaced by
// internal/config's cobra/viper convention and an errgroup.Group running
// the accept loop alongside the replica client, matching the pack's
// dittofs-style use of golang.org/x/sync/errgroup for sibling goroutines
// that should all be cancelled if one of them fails.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"goredis-core/internal/config"
	"goredis-core/internal/dispatch"
	"goredis-core/internal/keyspace"
	"goredis-core/internal/logger"
	"goredis-core/internal/rdb"
	"goredis-core/internal/replication"
	"goredis-core/internal/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logger.Errorf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Parse(args)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	logger.Infof("starting server: role=%s port=%d dir=%s", cfg.Role, cfg.Port, cfg.Dir)

	ks := keyspace.New()

	snapshotPath := filepath.Join(cfg.Dir, cfg.DBFilename)
	entries, err := rdb.LoadFile(snapshotPath)
	if err != nil {
		logger.Warnf("rdb bootstrap: %v (keeping %d keys parsed before the error)", err, len(entries))
	}
	for _, e := range entries {
		if e.ExpiresAtMS != nil {
			ks.SetAbsoluteMS(e.Key, e.Value, *e.ExpiresAtMS)
		} else {
			ks.Set(e.Key, e.Value)
		}
	}
	logger.Infof("rdb bootstrap: loaded %d keys from %s", len(entries), snapshotPath)

	state := replication.NewState(cfg.Role)
	var registry *replication.Registry
	if !cfg.IsReplica() {
		registry = replication.NewRegistry()
	}
	dispatcher := dispatch.New(ks, cfg, state)
	srv := server.New(cfg, ks, dispatcher, state, registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(gctx)
	})

	if cfg.IsReplica() {
		client := replication.NewClient(cfg.MasterHost, cfg.MasterPort, cfg.Port, ks, dispatcher, state)
		g.Go(func() error {
			err := client.Run(gctx)
			if err != nil && gctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Infof("server: shutdown complete")
	return nil
}
