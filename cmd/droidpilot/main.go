// File: cmd/droidpilot/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/xkilldash9x/droidpilot/cmd"
	"github.com/xkilldash9x/droidpilot/internal/observability"
)

const panicLogFile = "panic.log"

const banner = `
   .-----.
   | o o |     droidpilot
   |  -  |     plan it, then let the phone do it
   '-----'     type "help" for commands, "exit" to quit

`

// Function variables so tests can intercept side effects.
var (
	osWriteFile           = os.WriteFile
	osExit                = os.Exit
	stderr      io.Writer = os.Stderr
)

func main() {
	defer handlePanic()

	// Interrupts cancel the running command; a run stops after its current tick.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 {
		err := cmd.Execute(ctx)
		observability.Sync()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				osExit(0)
				return
			}
			fmt.Fprintln(stderr, "Error:", err)
			osExit(1)
		}
		return
	}

	fmt.Print(banner)
	if err := interactive(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(stderr, "Error reading from stdin:", err)
		osExit(1)
	}
	fmt.Println("Exiting droidpilot.")
}

// interactive reads commands line by line until EOF, "exit" or "quit".
func interactive(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "droidpilot > ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		executeInteractiveCommand(ctx, line, out)
		if ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}

// executeInteractiveCommand runs one line on a fresh command tree so flags do
// not leak between commands. Errors and panics are reported, not fatal.
func executeInteractiveCommand(ctx context.Context, line string, out io.Writer) {
	rootCmd := cmd.NewRootCommand()
	rootCmd.SetArgs(strings.Fields(line))
	rootCmd.SetOut(out)

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "Error: command panicked: %v\n", r)
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(stderr, "Error:", err)
	}
}

// handlePanic records a crash to panicLogFile and exits non-zero.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(stderr, "Panic details:\n%s\n", panicMessage)
		osExit(2)
		return
	}
	fmt.Fprintf(stderr, "droidpilot crashed. Details logged to %s\n", panicLogFile)
	osExit(2)
}
