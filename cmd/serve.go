package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"devicesim/internal/api"
	"devicesim/internal/config"
	"devicesim/internal/dispatch"
	"devicesim/internal/logging"
	"devicesim/internal/network"
	"devicesim/internal/osutils"
	"devicesim/internal/tray"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept intents from remote clients over HTTP, WebSocket and UDP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func pauseTitle(paused bool) string {
	if paused {
		return "Resume injection"
	}
	return "Pause injection"
}

func runServe() error {
	log := logging.L("serve")
	cfg := cfgMgr.Get()

	disp, err := newDispatcher()
	if err != nil {
		return err
	}

	log.Info("devicesim starting",
		zap.String("version", version),
		zap.String("config", cfgMgr.Path()),
		zap.Bool("dry_run", cfg.DryRun.Enabled))

	if runtime.GOOS == "windows" && !cfg.DryRun.Enabled && !osutils.IsAdmin() {
		log.Warn("not running elevated: input into elevated windows will be blocked by the host")
	}

	if cfg.Firewall.Manage && runtime.GOOS == "windows" {
		if loopbackOnly(cfg.API.Listen) {
			log.Info("listening on loopback only, firewall rule not needed", zap.String("listen", cfg.API.Listen))
		} else {
			udpPort := 0
			if cfg.UDP.Enabled {
				udpPort = cfg.UDP.Port
			}
			go func() {
				if err := osutils.EnsureFirewallRule(cfg.API.Port, udpPort); err != nil {
					log.Warn("firewall rule not applied", zap.Error(err))
				}
			}()
		}
	}

	udp, apiServer, err := startTransports(cfg, disp)
	if err != nil {
		return err
	}
	if udp != nil {
		defer udp.Stop()
	}

	cfgMgr.RegisterChangeCallback(func() {
		c := cfgMgr.Get()
		logging.SetLevel(c.Log.Level)
		if udp != nil {
			udp.SetToken(c.API.Token)
		}
		if apiServer != nil {
			apiServer.ReloadLimits()
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tray.Enabled {
		runTray(ctx, disp)
	} else {
		log.Info("devicesim running, press Ctrl+C to stop")
		<-ctx.Done()
	}

	log.Info("shutting down")
	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("API shutdown", zap.Error(err))
		}
	}
	return nil
}

// startTransports starts the UDP listener, then the API server. A UDP bind
// error returns before the API server is started.
func startTransports(cfg config.Config, disp *dispatch.Dispatcher) (*network.UDPListener, *api.Server, error) {
	log := logging.L("serve")

	var udp *network.UDPListener
	if cfg.UDP.Enabled {
		if cfg.API.Token == "" {
			log.Warn("UDP listener accepts intents without authentication; set api.token to require it",
				zap.String("listen", cfg.API.Listen))
		}
		udp = network.NewUDPListener(cfg.API.Listen, cfg.UDP.Port, cfg.API.Token, disp)
		if err := udp.Start(); err != nil {
			return nil, nil, err
		}
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfgMgr, disp, version)
		go func() {
			if err := apiServer.Start(); err != nil {
				log.Error("API server stopped", zap.Error(err))
			}
		}()
	}
	return udp, apiServer, nil
}

// loopbackOnly reports whether host binds only the loopback interface
func loopbackOnly(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// pauser is the part of the dispatcher the tray drives
type pauser interface {
	Pause()
	Resume()
	Paused() bool
	SetOnPauseChanged(func(paused bool))
}

// runTray blocks in the tray event loop until Quit or ctx is cancelled
func runTray(ctx context.Context, d pauser) {
	t := tray.New(fmt.Sprintf("devicesim v%s", version))

	t.AddStatusItem(fmt.Sprintf("devicesim v%s", version))
	t.AddSeparator()
	pauseID := t.AddMenuItem(pauseTitle(d.Paused()), func() {
		if d.Paused() {
			d.Resume()
		} else {
			d.Pause()
		}
	})
	t.AddSeparator()
	t.AddMenuItem("Quit", func() {
		t.Stop()
	})

	d.SetOnPauseChanged(func(paused bool) {
		t.SetItemTitle(pauseID, pauseTitle(paused))
		t.SetItemChecked(pauseID, paused)
		if paused {
			t.SetTooltip("devicesim (paused)")
		} else {
			t.SetTooltip(fmt.Sprintf("devicesim v%s", version))
		}
	})

	go func() {
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.Quit():
		}
	}()

	t.Run()
}
