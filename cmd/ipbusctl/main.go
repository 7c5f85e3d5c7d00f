// Command ipbusctl drives an IPbus target from the command line: single
// reads and writes, the RMW bit helpers, a one-shot status probe, and a
// watch mode that keeps a keepalive running and prints signals as they
// arrive. Grounded on _examples/longhorn-longhorn-engine's urfave/cli (v1)
// command structure (app/engine/cmd/controller.go,
// app/instance-manager/main.go).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/hep-fnal/ipbus/ipbus"
)

// exit codes, per the config-file/CLI section of the external interfaces:
// scripts invoking ipbusctl need to tell a reachable-but-faulting target
// apart from an unreachable one.
const (
	exitOK           = 0
	exitIPbusFault   = 1
	exitNetworkFault = 2
	exitUsage        = 3
)

func main() {
	app := cli.NewApp()
	app.Name = "ipbusctl"
	app.Usage = "exercise an IPbus v2.0 target over UDP"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "path to a target TOML config file"},
		cli.StringFlag{Name: "addr", Usage: "target address host:port, overrides --config"},
		cli.IntFlag{Name: "timeout-ms", Usage: "per-exchange timeout in milliseconds, overrides --config"},
		cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("debug") {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return nil
	}
	app.Commands = []cli.Command{
		readCmd(),
		writeCmd(),
		setBitCmd(),
		clearBitCmd(),
		writeNbitsCmd(),
		statusCmd(),
		watchCmd(),
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor prints err and maps it to one of the documented exit codes.
func exitCodeFor(err error) int {
	fault, ok := err.(*ipbus.Fault)
	if !ok {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitUsage
	}
	fmt.Fprintln(os.Stderr, "error:", fault)
	return exitCodeForFault(fault)
}

// exitCodeForFault is the pure mapping exitCodeFor prints around.
func exitCodeForFault(fault *ipbus.Fault) int {
	switch fault.Kind {
	case ipbus.NetworkErrorKind:
		return exitNetworkFault
	case ipbus.IPbusErrorKind:
		return exitIPbusFault
	default:
		return exitUsage
	}
}

// resolveConfig builds a Config from --config and the --addr/--timeout-ms
// overrides, in that order, falling back to DefaultConfig when neither flag
// is set.
func resolveConfig(c *cli.Context) (ipbus.Config, error) {
	cfg := ipbus.DefaultConfig()
	if path := c.GlobalString("config"); path != "" {
		loaded, err := ipbus.LoadConfig(path)
		if err != nil {
			return ipbus.Config{}, err
		}
		cfg = loaded
	}
	if addr := c.GlobalString("addr"); addr != "" {
		host, portStr, err := splitHostPort(addr)
		if err != nil {
			return ipbus.Config{}, err
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return ipbus.Config{}, fmt.Errorf("invalid port %q: %w", portStr, err)
		}
		cfg.IPAddress = host
		cfg.Port = uint16(port)
	}
	if ms := c.GlobalInt("timeout-ms"); ms > 0 {
		cfg.TimeoutMS = uint16(ms)
	}
	return cfg, cfg.Validate()
}

func splitHostPort(addr string) (string, string, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("address %q must be host:port", addr)
}

// dial builds and connects a Target from the resolved CLI config.
func dial(c *cli.Context) (*ipbus.Target, error) {
	cfg, err := resolveConfig(c)
	if err != nil {
		return nil, err
	}
	target := ipbus.NewTarget("ipbusctl", cfg, nil)
	if err := target.Reconnect(); err != nil {
		return nil, err
	}
	return target, nil
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return uint32(v), nil
}

func readCmd() cli.Command {
	return cli.Command{
		Name:      "read",
		Usage:     "read one or more words starting at addr",
		ArgsUsage: "<addr> [nwords]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.NewExitError("read requires an address", exitUsage)
			}
			addr, err := parseUint32(c.Args().Get(0))
			if err != nil {
				return cli.NewExitError(err.Error(), exitUsage)
			}
			nwords := 1
			if c.NArg() >= 2 {
				n, err := strconv.Atoi(c.Args().Get(1))
				if err != nil || n < 1 {
					return cli.NewExitError("nwords must be a positive integer", exitUsage)
				}
				nwords = n
			}

			target, err := dial(c)
			if err != nil {
				os.Exit(exitCodeFor(err))
			}
			defer target.Close()

			dest := make([]uint32, nwords)
			p := ipbus.NewPacket()
			if err := p.AddRead(addr, dest); err != nil {
				return cli.NewExitError(err.Error(), exitUsage)
			}
			if err := target.Exchange(p, false); err != nil {
				os.Exit(exitCodeFor(err))
			}
			for i, word := range dest {
				fmt.Printf("0x%08X: 0x%08X\n", addr+uint32(i), word)
			}
			return nil
		},
	}
}

func writeCmd() cli.Command {
	return cli.Command{
		Name:      "write",
		Usage:     "write one or more words starting at addr",
		ArgsUsage: "<addr> <value...>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return cli.NewExitError("write requires an address and at least one value", exitUsage)
			}
			addr, err := parseUint32(c.Args().Get(0))
			if err != nil {
				return cli.NewExitError(err.Error(), exitUsage)
			}
			values := make([]uint32, c.NArg()-1)
			for i, arg := range c.Args()[1:] {
				v, err := parseUint32(arg)
				if err != nil {
					return cli.NewExitError(err.Error(), exitUsage)
				}
				values[i] = v
			}

			target, err := dial(c)
			if err != nil {
				os.Exit(exitCodeFor(err))
			}
			defer target.Close()

			p := ipbus.NewPacket()
			if err := p.AddWrite(addr, values); err != nil {
				return cli.NewExitError(err.Error(), exitUsage)
			}
			if err := target.Exchange(p, false); err != nil {
				os.Exit(exitCodeFor(err))
			}
			fmt.Printf("wrote %d word(s) at 0x%08X\n", len(values), addr)
			return nil
		},
	}
}

func setBitCmd() cli.Command {
	return cli.Command{
		Name:      "setbit",
		Usage:     "atomically set bit n of the register at addr",
		ArgsUsage: "<n> <addr>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return cli.NewExitError("setbit requires a bit number and an address", exitUsage)
			}
			n, err := strconv.Atoi(c.Args().Get(0))
			if err != nil || n < 0 || n > 31 {
				return cli.NewExitError("bit number must be 0-31", exitUsage)
			}
			addr, err := parseUint32(c.Args().Get(1))
			if err != nil {
				return cli.NewExitError(err.Error(), exitUsage)
			}

			target, err := dial(c)
			if err != nil {
				os.Exit(exitCodeFor(err))
			}
			defer target.Close()

			if err := target.SetBit(addr, uint(n)); err != nil {
				os.Exit(exitCodeFor(err))
			}
			fmt.Printf("set bit %d of 0x%08X\n", n, addr)
			return nil
		},
	}
}

func clearBitCmd() cli.Command {
	return cli.Command{
		Name:      "clearbit",
		Usage:     "atomically clear bit n of the register at addr",
		ArgsUsage: "<n> <addr>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return cli.NewExitError("clearbit requires a bit number and an address", exitUsage)
			}
			n, err := strconv.Atoi(c.Args().Get(0))
			if err != nil || n < 0 || n > 31 {
				return cli.NewExitError("bit number must be 0-31", exitUsage)
			}
			addr, err := parseUint32(c.Args().Get(1))
			if err != nil {
				return cli.NewExitError(err.Error(), exitUsage)
			}

			target, err := dial(c)
			if err != nil {
				os.Exit(exitCodeFor(err))
			}
			defer target.Close()

			if err := target.ClearBit(addr, uint(n)); err != nil {
				os.Exit(exitCodeFor(err))
			}
			fmt.Printf("cleared bit %d of 0x%08X\n", n, addr)
			return nil
		},
	}
}

func writeNbitsCmd() cli.Command {
	return cli.Command{
		Name:      "writenbits",
		Usage:     "atomically write nbits of value into addr at bit position shift",
		ArgsUsage: "<addr> <value> <nbits> [shift]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 3 {
				return cli.NewExitError("writenbits requires addr, value, and nbits", exitUsage)
			}
			addr, err := parseUint32(c.Args().Get(0))
			if err != nil {
				return cli.NewExitError(err.Error(), exitUsage)
			}
			value, err := parseUint32(c.Args().Get(1))
			if err != nil {
				return cli.NewExitError(err.Error(), exitUsage)
			}
			nbits, err := strconv.Atoi(c.Args().Get(2))
			if err != nil || nbits < 1 || nbits > 32 {
				return cli.NewExitError("nbits must be 1-32", exitUsage)
			}
			shift := 0
			if c.NArg() >= 4 {
				s, err := strconv.Atoi(c.Args().Get(3))
				if err != nil || s < 0 {
					return cli.NewExitError("shift must be a non-negative integer", exitUsage)
				}
				shift = s
			}

			target, err := dial(c)
			if err != nil {
				os.Exit(exitCodeFor(err))
			}
			defer target.Close()

			if err := target.WriteNbits(addr, value, uint(nbits), uint(shift)); err != nil {
				os.Exit(exitCodeFor(err))
			}
			fmt.Printf("wrote %d bit(s) of 0x%08X into 0x%08X at shift %d\n", nbits, value, addr, shift)
			return nil
		},
	}
}

func statusCmd() cli.Command {
	return cli.Command{
		Name:  "status",
		Usage: "send a status probe and report online/offline",
		Action: func(c *cli.Context) error {
			cfg, err := resolveConfig(c)
			if err != nil {
				return cli.NewExitError(err.Error(), exitUsage)
			}
			target := ipbus.NewTarget("ipbusctl", cfg, nil)
			if err := target.Reconnect(); err != nil {
				fmt.Printf("offline: %v\n", err)
				os.Exit(exitCodeFor(err))
			}
			defer target.Close()
			fmt.Printf("%s: %s\n", target.Name, target.State())
			return nil
		},
	}
}

func watchCmd() cli.Command {
	return cli.Command{
		Name:  "watch",
		Usage: "reconnect, keep the keepalive running, and print signals until interrupted",
		Action: func(c *cli.Context) error {
			cfg, err := resolveConfig(c)
			if err != nil {
				return cli.NewExitError(err.Error(), exitUsage)
			}
			target := ipbus.NewTarget("ipbusctl", cfg, nil)
			if err := target.Reconnect(); err != nil {
				os.Exit(exitCodeFor(err))
			}
			defer target.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sig := target.Signals()
			for {
				select {
				case <-ctx.Done():
					return nil
				case f := <-sig.Error:
					fmt.Println("error:", f)
				case reason := <-sig.NoResponse:
					fmt.Println("no response:", reason)
				case <-sig.StatusOK:
					fmt.Println("status ok")
				case n := <-sig.ReadSucceeded:
					fmt.Println("read succeeded, words:", n)
				case n := <-sig.WriteSucceeded:
					fmt.Println("write succeeded, words:", n)
				}
			}
		},
	}
}
