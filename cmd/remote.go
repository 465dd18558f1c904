package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"devicesim/internal/autostart"
	"devicesim/internal/network"
	"devicesim/internal/protocol"
)

var (
	remoteAddr      string
	remoteTransport string
	remoteToken     string
	remoteRelative  bool
	remoteTimeout   time.Duration
	discoverPort    int
)

var remoteCmd = &cobra.Command{
	Use:   "remote OP [ARGS...]",
	Short: "Send one intent to a running devicesim serve",
	Long: `Send one intent to a running devicesim serve over WebSocket or UDP.

OP is one of: move, move_by, down, up, click, double_click, type, key.

  devicesim remote --addr 192.168.1.20:18090 click right
  devicesim remote --transport udp --addr 192.168.1.20:18091 type hello`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := intentFromArgs(protocol.Op(args[0]), args[1:], remoteRelative)
		if err != nil {
			return err
		}

		cfg := cfgMgr.Get()
		token := remoteToken
		if token == "" {
			token = cfg.API.Token
		}

		ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
		defer cancel()

		switch remoteTransport {
		case "ws":
			addr := remoteAddr
			if addr == "" {
				addr = net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.API.Port))
			}
			return sendWS(ctx, addr, token, in)
		case "udp":
			addr := remoteAddr
			if addr == "" {
				addr = net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.UDP.Port))
			}
			return sendUDP(addr, token, in)
		default:
			return fmt.Errorf("unknown transport %q (ws or udp)", remoteTransport)
		}
	},
}

func sendWS(ctx context.Context, addr, token string, in protocol.Intent) error {
	client := network.NewWSClient(addr, token)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	res, err := client.Send(ctx, in)
	if err != nil {
		if res.Code != 0 {
			return fmt.Errorf("%w (host error code %d)", err, res.Code)
		}
		return err
	}
	fmt.Println("ok")
	return nil
}

func sendUDP(addr, token string, in protocol.Intent) error {
	sender := network.NewUDPSender(addr)
	sender.Token = token
	if err := sender.Connect(); err != nil {
		return err
	}
	defer sender.Close()

	ack, err := sender.Send(in)
	if err != nil {
		return err
	}
	if err := network.AckError(ack); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Scan the attached /24 subnets for running devicesim servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := discoverPort
		if port == 0 {
			port = cfgMgr.Get().API.Port
		}

		hosts, err := network.ScanLAN(cmd.Context(), port)
		if err != nil {
			return err
		}
		if len(hosts) == 0 {
			fmt.Println("No devicesim servers found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tHOSTNAME\tVERSION\tPAUSED")
		for _, h := range hosts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", net.JoinHostPort(h.IP, strconv.Itoa(h.Port)), h.Hostname, h.Version, h.Paused)
		}
		return w.Flush()
	},
}

var autostartCmd = &cobra.Command{
	Use:   "autostart",
	Short: "Manage running devicesim serve at login",
}

func init() {
	remoteCmd.Flags().StringVar(&remoteAddr, "addr", "", "server host:port (default is localhost with the configured port)")
	remoteCmd.Flags().StringVar(&remoteTransport, "transport", "ws", "transport: ws or udp")
	remoteCmd.Flags().StringVar(&remoteToken, "token", "", "API token (default is api.token from the config)")
	remoteCmd.Flags().BoolVar(&remoteRelative, "relative", false, "treat move coordinates as deltas")
	remoteCmd.Flags().DurationVar(&remoteTimeout, "timeout", 5*time.Second, "overall request timeout")

	discoverCmd.Flags().IntVar(&discoverPort, "port", 0, "API port to probe (default is api.port from the config)")

	autostartCmd.AddCommand(
		&cobra.Command{
			Use:   "enable",
			Short: "Start devicesim serve at login",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path := cfgFile
				if path != "" {
					abs, err := filepath.Abs(path)
					if err != nil {
						return err
					}
					path = abs
				}
				if err := autostart.Enable(path); err != nil {
					return err
				}
				fmt.Println("Autostart enabled")
				return nil
			},
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Stop starting devicesim at login",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := autostart.Disable(); err != nil {
					return err
				}
				fmt.Println("Autostart disabled")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Report whether autostart is enabled",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				if autostart.IsEnabled() {
					fmt.Println("Autostart: enabled")
				} else {
					fmt.Println("Autostart: disabled")
				}
			},
		},
	)
}
