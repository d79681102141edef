package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agleyzer/qualityfix/internal/cluster"
	"github.com/agleyzer/qualityfix/internal/intercept"
	"github.com/agleyzer/qualityfix/internal/notify"
	"github.com/agleyzer/qualityfix/internal/proxy"
	"github.com/agleyzer/qualityfix/internal/selection"
	"github.com/agleyzer/qualityfix/internal/server"
)

func (a *app) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rewriting proxy",
		Example: `  qualityfix serve
  qualityfix serve --port 9000 --upstream https://video.twimg.com
  qualityfix serve --config qualityfix.yaml --verbose
  qualityfix serve --raft-id node1 --raft-bind 127.0.0.1:7000 --peers 127.0.0.1:7000,127.0.0.1:7001`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&a.port, "port", 8080, "HTTP server port")
	flags.StringVar(&a.upstream, "upstream", "", "Upstream base URL (default https://video.twimg.com)")
	flags.StringVar(&a.manifestHost, "manifest-host", "", "Host whose manifests are rewritten (default: upstream host)")
	flags.BoolVar(&a.noBadge, "no-badge", false, "Do not track the quality badge")
	flags.BoolVar(&a.disable, "disable", false, "Pass every manifest through untouched")
	flags.StringVar(&a.raftID, "raft-id", "", "Raft node ID (enables cluster mode)")
	flags.StringVar(&a.raftBind, "raft-bind", "", "Raft bind address (host:port)")
	flags.StringSliceVar(&a.peers, "peers", nil, "Comma-separated Raft peer addresses, including this node")

	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	logger.Info("qualityfix starting", "version", version)

	upstreamURL, err := url.Parse(cfg.Upstream.URL)
	if err != nil {
		return fmt.Errorf("invalid upstream URL: %w", err)
	}

	matcher, err := intercept.NewMatcher(cfg.Upstream.ManifestHost)
	if err != nil {
		return err
	}

	var store selection.Store = selection.NewMemory()
	var serverOpts []server.Option

	if cfg.Cluster.Enabled {
		manager, err := cluster.NewManager(cfg.Cluster.Config, logger)
		if err != nil {
			return fmt.Errorf("failed to create cluster manager: %w", err)
		}
		if err := manager.Start(ctx); err != nil {
			return fmt.Errorf("failed to start cluster: %w", err)
		}
		defer func() {
			if err := manager.Shutdown(); err != nil {
				logger.Error("cluster shutdown failed", "error", err)
			}
		}()

		mirror := selection.NewMirror(manager, logger)
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mirror.Flush(flushCtx); err != nil {
				logger.Warn("pending selection writes not replicated", "error", err)
			}
		}()

		store = mirror
		serverOpts = append(serverOpts, server.WithStats("cluster", manager.Stats))
		logger.Info("cluster mode enabled", "raft_id", cfg.Cluster.RaftID, "peers", cfg.Cluster.Peers)
	}

	notifier := notify.Discard
	if cfg.Badge.Enabled {
		badge := notify.NewBadge()
		sink := notify.MultiSink(badge, notify.LogSink{Logger: logger})
		notifier = notify.NewDisplay(sink, cfg.Badge.ShowDelay, cfg.Badge.HideAfter, logger)
		serverOpts = append(serverOpts, server.WithBadge(badge))
	}

	adapter := intercept.New(store, notifier, logger,
		intercept.WithEnabled(cfg.Rewrite.ForceHighestQuality),
		intercept.WithVerify(cfg.Rewrite.Verify),
	)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Upstream.Timeout

	p := proxy.New(upstreamURL, matcher, logger,
		proxy.WithTransport(transport),
		proxy.WithMaxBody(cfg.Upstream.MaxManifestBytes),
	)
	adapter.Attach(p)

	serverOpts = append(serverOpts,
		server.WithStats("adapter", adapter.Stats),
		server.WithWatcher(notify.NewWatcher(store, notifier)),
	)
	srv := server.New(p, store, cfg.Server.Port, logger, serverOpts...)

	logger.Info("proxy ready",
		"listen", fmt.Sprintf("http://localhost:%d/", cfg.Server.Port),
		"upstream", upstreamURL.String(),
		"manifest_host", matcher.Host(),
		"rewrite", cfg.Rewrite.ForceHighestQuality,
		"quality", fmt.Sprintf("http://localhost:%d/quality", cfg.Server.Port),
	)

	// Blocks until shutdown
	return srv.Start(ctx)
}
