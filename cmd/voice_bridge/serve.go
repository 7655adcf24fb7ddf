package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/voice_bridge/pkg/api"
	"github.com/arzzra/voice_bridge/pkg/notify"
	"github.com/arzzra/voice_bridge/pkg/rtp"
	"github.com/arzzra/voice_bridge/pkg/session"
	"github.com/arzzra/voice_bridge/pkg/sip/transaction"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run SIP server, HTTP API and call reconciliation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, configFile)
	},
}

func runServe(ctx context.Context, path string) error {
	a, err := newApp(path)
	if err != nil {
		return err
	}
	cfg := a.cfg

	ports, err := rtp.NewPortManager(
		rtp.PortRange{Min: cfg.RTP.PortMin, Max: cfg.RTP.PortMax},
		cfg.SIP.Host,
		rtp.SocketConfig{DSCP: cfg.RTP.DSCP},
	)
	if err != nil {
		return closeOnError(a, err)
	}

	hub := notify.NewHub(a.log)
	a.deps.Notifier = hub

	server := transaction.NewServer(transaction.Config{
		ListenAddr: cfg.SIP.ListenAddr(),
		Username:   cfg.SIP.Username,
		UserAgent:  cfg.SIP.UserAgent,
		LocalIP:    cfg.SIP.LocalIP,
		Stream:     rtp.StreamConfig{RandomStart: true},
	}, ports, a.log)

	registry, err := session.NewRegistry(a.sessionConfig(), a.deps, server)
	if err != nil {
		return closeOnError(a, err)
	}
	registry.SetBaseContext(ctx)
	server.OnCall(registry.HandleCall)
	server.OnBye(registry.HandleBye)
	server.OnRinging(func(info transaction.DialogInfo) {
		hub.CallStatus(notify.StatusRinging, info.CallID, info.CallerID)
	})

	if err := server.Start(ctx); err != nil {
		return closeOnError(a, err)
	}
	hub.SIPStatus(true, map[string]any{"listen": cfg.SIP.ListenAddr()})
	rtpRange := ports.Range()
	a.log.WithFields(logrus.Fields{
		"sip":      cfg.SIP.ListenAddr(),
		"rtp_from": rtpRange.Min,
		"rtp_to":   rtpRange.Max,
	}).Info("Сигнализация и медиа готовы")

	reconciler := session.NewReconciler(registry, a.store, cfg.Reconcile.Interval, cfg.Reconcile.StaleAfter, a.log)
	httpAPI := api.NewServer(api.Config{Listen: cfg.API.Listen}, registry, a.store, hub, a.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpAPI.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		registry.StopAll("shutdown")
		server.Stop()
		hub.SIPStatus(false, nil)
		hub.Close()
		return nil
	})

	a.log.Info("voice_bridge запущен")
	err = g.Wait()
	a.Close()
	return err
}
