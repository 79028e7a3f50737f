package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ergochat/readline"
	"github.com/spf13/pflag"

	"carestore/client"
	"carestore/dispatch"
	"carestore/wire"
)

var (
	addr    = pflag.StringP("addr", "a", "127.0.0.1:4001", "server address")
	timeout = pflag.Duration("timeout", 5*time.Second, "per-request timeout")
	history = pflag.String("history", ".carectl_history", "readline history file (empty disables)")
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: carectl [flags] [COMMAND [ARG...]]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	dialCtx, cancel := context.WithTimeout(context.Background(), *timeout)
	c, err := client.Dial(dialCtx, *addr)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "carectl:", err)
		os.Exit(1)
	}
	defer c.Close()

	// One-shot mode: the command is on the command line.
	if args := pflag.Args(); len(args) > 0 {
		if err := send(os.Stdout, c, wire.Encode(args...)); err != nil {
			os.Exit(1)
		}
		return
	}

	sh, err := newShell(c)
	if err != nil {
		fmt.Fprintln(os.Stderr, "carectl:", err)
		os.Exit(1)
	}
	defer sh.Close()
	if err := sh.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "carectl:", err)
		os.Exit(1)
	}
}

// shell is the interactive loop.
type shell struct {
	c  *client.Client
	rl *readline.Instance
}

func completer() *readline.PrefixCompleter {
	pc := readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
	)
	for _, name := range dispatch.Commands {
		pc.Children = append(pc.Children, readline.PcItem(name))
	}
	return pc
}

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func newShell(c *client.Client) (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "carestore> ",
		HistoryFile:     *history,
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return nil, err
	}
	rl.CaptureExitSignal()
	return &shell{c: c, rl: rl}, nil
}

func (sh *shell) Close() error {
	return sh.rl.Close()
}

// Run reads lines until EOF or exit. A transport failure ends the loop,
// since the connection state is then unknown.
func (sh *shell) Run() error {
	out := os.Stdout
	for {
		line, err := sh.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "help":
			printHelp(out)
			continue
		}
		if err := send(out, sh.c, requestLine(line)); err != nil {
			var re *client.ResponseError
			if !errors.As(err, &re) {
				return err
			}
		}
	}
}

// requestLine turns shell input into a protocol line. Input that already
// contains the delimiter is sent as typed; otherwise whitespace separates
// the fields.
func requestLine(input string) string {
	if strings.ContainsRune(input, rune(wire.Delimiter)) {
		return input
	}
	return wire.Encode(strings.Fields(input)...)
}

// send issues one request and prints the outcome.
func send(out io.Writer, c *client.Client, line string) error {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fields, err := c.Raw(ctx, line)
	if err != nil {
		var re *client.ResponseError
		if errors.As(err, &re) {
			fmt.Fprintf(out, "ERR %s\n", re.Message)
		} else {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		return err
	}
	if len(fields) == 0 {
		fmt.Fprintln(out, "OK")
		return nil
	}
	fmt.Fprintf(out, "OK %s\n", strings.Join(fields, " | "))
	return nil
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Type a command and its arguments separated by spaces, e.g.")
	fmt.Fprintln(out, "  REGISTER alice 7")
	fmt.Fprintln(out, "or a raw protocol line, e.g.")
	fmt.Fprintln(out, "  HISTORY_INSERT|1|7:flu:2024-01-01")
	fmt.Fprintln(out, "Commands:")
	for _, name := range dispatch.Commands {
		fmt.Fprintf(out, "  %s\n", name)
	}
	fmt.Fprintln(out, "exit or quit leaves the shell.")
}
