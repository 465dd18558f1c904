package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"devicesim/internal/config"
	"devicesim/internal/dispatch"
	"devicesim/internal/input"
	"devicesim/internal/logging"
	"devicesim/internal/osutils"
	"devicesim/internal/protocol"
)

// newSynthesizer selects the host injector or, in dry-run mode, the logging one
func newSynthesizer(cfg config.Config) (*input.Synthesizer, error) {
	if cfg.DryRun.Enabled {
		d := input.NewDryRunInjector(cfg.DryRun.Width, cfg.DryRun.Height, logging.L("dry-run"))
		return input.NewSynthesizer(d, d, logging.L("synth")), nil
	}

	sys, err := input.NewSystemInjector()
	if err != nil {
		return nil, fmt.Errorf("%w (use --dry-run to log events instead)", err)
	}
	return input.NewSynthesizer(sys, sys, logging.L("synth")), nil
}

func newDispatcher() (*dispatch.Dispatcher, error) {
	synth, err := newSynthesizer(cfgMgr.Get())
	if err != nil {
		return nil, err
	}
	return dispatch.New(synth, logging.L("dispatch")), nil
}

// intentFromArgs builds an intent from command-line style arguments.
// It is shared by the local commands and "remote".
func intentFromArgs(op protocol.Op, args []string, relative bool) (protocol.Intent, error) {
	in := protocol.Intent{Op: op}
	switch op {
	case protocol.OpMove, protocol.OpMoveBy:
		if len(args) != 2 {
			return in, fmt.Errorf("%s needs X and Y", op)
		}
		x, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return in, fmt.Errorf("invalid X %q", args[0])
		}
		y, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil {
			return in, fmt.Errorf("invalid Y %q", args[1])
		}
		in.X, in.Y = int32(x), int32(y)
		if relative {
			in.Op = protocol.OpMoveBy
		}
	case protocol.OpDown, protocol.OpUp, protocol.OpClick, protocol.OpDoubleClick:
		if len(args) > 1 {
			return in, fmt.Errorf("%s takes at most one button", op)
		}
		if len(args) == 1 {
			in.Button = args[0]
		}
	case protocol.OpType:
		in.Text = strings.Join(args, " ")
	case protocol.OpKey:
		if len(args) != 1 {
			return in, fmt.Errorf("key needs one virtual-key code")
		}
		vk, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return in, fmt.Errorf("invalid virtual-key code %q", args[0])
		}
		in.Key = uint16(vk)
	default:
		return in, fmt.Errorf("unknown operation %q", op)
	}
	return in, in.Validate()
}

func runLocal(op protocol.Op, args []string, relative bool) error {
	in, err := intentFromArgs(op, args, relative)
	if err != nil {
		return err
	}
	d, err := newDispatcher()
	if err != nil {
		return err
	}
	return d.Execute("cli", in)
}

func localCommands() []*cobra.Command {
	var relative bool
	moveCmd := &cobra.Command{
		Use:   "move X Y",
		Short: "Move the pointer to pixel X,Y (or by X,Y with --relative)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocal(protocol.OpMove, args, relative)
		},
	}
	moveCmd.Flags().BoolVar(&relative, "relative", false, "move relative to the current position")

	buttonCmd := func(op protocol.Op, use, short string) *cobra.Command {
		return &cobra.Command{
			Use:       use + " [left|right|middle]",
			Short:     short,
			Args:      cobra.MaximumNArgs(1),
			ValidArgs: []string{"left", "right", "middle"},
			RunE: func(cmd *cobra.Command, args []string) error {
				return runLocal(op, args, false)
			},
		}
	}

	typeCmd := &cobra.Command{
		Use:   "type TEXT...",
		Short: "Type text as Unicode key events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocal(protocol.OpType, args, false)
		},
	}

	keyCmd := &cobra.Command{
		Use:   "key VK",
		Short: "Press and release a virtual key (decimal or 0x hex)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocal(protocol.OpKey, args, false)
		},
	}

	wakeCmd := &cobra.Command{
		Use:   "wake",
		Short: "Nudge the pointer by one pixel and back to wake the display",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDispatcher()
			if err != nil {
				return err
			}
			if err := d.Execute("cli", protocol.Intent{Op: protocol.OpMoveBy, X: 1, Y: 1}); err != nil {
				return err
			}
			return d.Execute("cli", protocol.Intent{Op: protocol.OpMoveBy, X: -1, Y: -1})
		},
	}

	var class, title string
	findCmd := &cobra.Command{
		Use:   "find-window",
		Short: "Look up a top-level window by class and/or title",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, ok := osutils.FindWindow(class, title)
			if !ok {
				logging.L("cli").Debug("window not found", zap.String("class", class), zap.String("title", title))
				return fmt.Errorf("window not found")
			}
			fmt.Printf("0x%X\n", uintptr(h))
			return nil
		},
	}
	findCmd.Flags().StringVar(&class, "class", "", "window class name")
	findCmd.Flags().StringVar(&title, "title", "", "window title")

	return []*cobra.Command{
		moveCmd,
		buttonCmd(protocol.OpDown, "down", "Press a mouse button"),
		buttonCmd(protocol.OpUp, "up", "Release a mouse button"),
		buttonCmd(protocol.OpClick, "click", "Click a mouse button (down then up)"),
		buttonCmd(protocol.OpDoubleClick, "double-click", "Click a mouse button twice"),
		typeCmd,
		keyCmd,
		wakeCmd,
		findCmd,
	}
}
