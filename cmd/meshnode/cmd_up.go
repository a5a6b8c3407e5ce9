package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kons-9/shapechangeable-computer/internal/app"
	"github.com/kons-9/shapechangeable-computer/internal/identity"
	"github.com/kons-9/shapechangeable-computer/internal/metrics"
	"github.com/kons-9/shapechangeable-computer/internal/node"
	"github.com/kons-9/shapechangeable-computer/internal/serial"
	"github.com/kons-9/shapechangeable-computer/pkg/wire"
)

var upIdentity string

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Join the fabric",
	Long: `Connect to the shared-medium hub, run the coordinate bootstrap, and
serve the fabric's packet traffic until interrupted.

The unit's identity word comes from the config file; --identity
overrides it for ad-hoc experiments.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().StringVar(&upIdentity, "identity", "", "identity word override (hex, e.g. 0x0029)")
}

func runUp(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if upIdentity != "" {
		if err := cfg.Unit.Identity.UnmarshalText([]byte(upIdentity)); err != nil {
			return err
		}
	}
	word := identity.Word(cfg.Unit.Identity)

	for _, line := range word.Summary() {
		globalLogger.Info(line)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			globalLogger.Info("metrics listening", "addr", cfg.Metrics.Listen)
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				globalLogger.Error("metrics server", "error", err)
			}
		}()
	}

	link, err := serial.DialWS(ctx, cfg.Hub.URL, globalLogger)
	if err != nil {
		return err
	}
	defer link.Close()
	globalLogger.Info("connected to medium hub", "url", cfg.Hub.URL)

	start := time.Now()
	n, err := node.New(ctx, link, word, globalLogger)
	if err != nil {
		return fmt.Errorf("joining fabric: %w", err)
	}
	n.SetStats(metrics.LinkStats{})
	metrics.BootstrapSeconds.Observe(time.Since(start).Seconds())

	coord := n.Coordinate()
	globalLogger.Info("unit on grid",
		"coordinate", coord, "location", n.GlobalLocation())
	if ip, ok := n.IP(); ok {
		globalLogger.Info("grid ip assigned", "ip", ip)
	}

	dispatcher := app.New(n, globalLogger)
	dispatcher.Handle(wire.Data, func(n *node.Node, p *wire.Packet) error {
		globalLogger.Info("application payload received",
			"from", identity.Word(p.GlobalSrc), "bytes", len(p.Payload))
		return nil
	})

	if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	globalLogger.Info("shutting down")
	return nil
}
