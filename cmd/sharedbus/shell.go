package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sharedbus"
	"github.com/mklimuk/sharedbus/cmd/sharedbus/console"
	"github.com/mklimuk/sharedbus/environment"
	"github.com/mklimuk/sharedbus/motion"
	"github.com/mklimuk/sharedbus/shared"
	"github.com/mklimuk/sharedbus/snsctx"
)

const shellHelp = `commands:
  tx <addr> <op>...   run one transaction; ops: w:<hex> write, r:<n> read n bytes,
                      wr:<hex>:<n> write then read with repeated start
                      e.g. tx 70 w:efc8 r:3
  id                  identify both sensors
  help                show this text
  quit                leave the shell`

var errQuit = errors.New("quit")

var shellCmd = cli.Command{
	Name:  "shell",
	Usage: "interactive console issuing raw transactions through the arbiter",
	Flags: busFlags,
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		m, err := openManager(c, cfg, nil)
		if err != nil {
			return err
		}
		defer closeManager(m)
		ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))

		rl, err := readline.NewEx(&readline.Config{
			Prompt:          console.Cyan("i2c> "),
			HistoryLimit:    200,
			InterruptPrompt: "^C",
			EOFPrompt:       "quit",
			AutoComplete: readline.NewPrefixCompleter(
				readline.PcItem("tx"),
				readline.PcItem("id"),
				readline.PcItem("help"),
				readline.PcItem("quit"),
			),
		})
		if err != nil {
			return console.Exit(console.ExitError, "could not start shell: %s", console.Red(err))
		}
		defer func() { _ = rl.Close() }()

		sh := &shell{bus: m.Acquire(shared.Named("shell")), out: rl.Stdout()}
		console.Printf("connected to %s, type help for commands\n", describe(cfg.Bus))
		for {
			line, err := rl.Readline()
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if err != nil {
				return nil
			}
			if err := sh.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				_, _ = fmt.Fprintf(rl.Stderr(), "%s: %s\n", console.Red("ERROR"), console.Failure(err))
			}
		}
	},
}

type shell struct {
	bus sharedbus.I2CBus
	out io.Writer
}

func (s *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "tx":
		address, ops, err := parseTx(fields[1:])
		if err != nil {
			return err
		}
		if err := s.bus.Transaction(ctx, address, ops...); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(s.out, formatReads(ops))
		return nil
	case "id":
		id, err := environment.NewSHTC3(s.bus).DeviceIdentifier(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(s.out, "Device ID SHTC3: %s\n", formatID(id))
		id, err = motion.NewICM42670(s.bus).DeviceID(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(s.out, "Device ID ICM42670P: %s\n", formatID(id))
		return nil
	case "help", "?":
		_, _ = fmt.Fprintln(s.out, shellHelp)
		return nil
	case "quit", "exit":
		return errQuit
	}
	return fmt.Errorf("unknown command %q, try help", fields[0])
}

// parseTx parses "<addr> <op>..." with a hexadecimal 7-bit address.
func parseTx(args []string) (byte, []sharedbus.Op, error) {
	if len(args) < 2 {
		return 0, nil, errors.New("usage: tx <addr> <op>...")
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 8)
	if err != nil || addr > 0x7F {
		return 0, nil, fmt.Errorf("invalid 7-bit address %q", args[0])
	}
	ops := make([]sharedbus.Op, 0, len(args)-1)
	for _, arg := range args[1:] {
		op, err := parseOp(arg)
		if err != nil {
			return 0, nil, err
		}
		ops = append(ops, op)
	}
	return byte(addr), ops, nil
}

func parseOp(arg string) (sharedbus.Op, error) {
	parts := strings.Split(arg, ":")
	switch {
	case parts[0] == "w" && len(parts) == 2:
		data, err := hex.DecodeString(parts[1])
		if err != nil {
			return sharedbus.Op{}, fmt.Errorf("invalid write data %q: %w", parts[1], err)
		}
		return sharedbus.Write(data...), nil
	case parts[0] == "r" && len(parts) == 2:
		n, err := parseLen(parts[1])
		if err != nil {
			return sharedbus.Op{}, err
		}
		return sharedbus.Read(make([]byte, n)), nil
	case parts[0] == "wr" && len(parts) == 3:
		data, err := hex.DecodeString(parts[1])
		if err != nil {
			return sharedbus.Op{}, fmt.Errorf("invalid write data %q: %w", parts[1], err)
		}
		n, err := parseLen(parts[2])
		if err != nil {
			return sharedbus.Op{}, err
		}
		return sharedbus.WriteRead(data, make([]byte, n)), nil
	}
	return sharedbus.Op{}, fmt.Errorf("invalid operation %q", arg)
}

func parseLen(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 255 {
		return 0, fmt.Errorf("invalid read length %q", s)
	}
	return n, nil
}

// formatReads lists the bytes received by each read op, or "ok" for write-only
// transactions.
func formatReads(ops []sharedbus.Op) string {
	var parts []string
	for i, op := range ops {
		if op.IsRead() {
			parts = append(parts, fmt.Sprintf("#%d: % x", i, op.Read))
		}
	}
	if len(parts) == 0 {
		return "ok"
	}
	return strings.Join(parts, "  ")
}

func formatID(id uint8) string {
	return fmt.Sprintf("0x%02x", id)
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', 2, 32)
}
