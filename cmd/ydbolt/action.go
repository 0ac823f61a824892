package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/ydbolt/internal/lock"
	"github.com/srg/ydbolt/internal/ydble"
)

type action struct {
	command ydble.Command
	verb    string
}

var (
	actionLock   = action{command: ydble.CommandLock, verb: "Locking"}
	actionUnlock = action{command: ydble.CommandUnlock, verb: "Unlocking"}
)

func newActionCmd(a action) *cobra.Command {
	name := a.command.String()
	cmd := &cobra.Command{
		Use:   name + " <lock>",
		Short: strings.ToUpper(name[:1]) + name[1:] + " a lock",
		Long: fmt.Sprintf(`Runs the challenge/response handshake to %[1]s the lock and prints the
state it settled in. <lock> is the configured name or the lock UUID.

Examples:
  ydbolt %[1]s front-door
  ydbolt %[1]s front-door --trace --timeout 20s`, name),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, args[0], a)
		},
	}
	cmd.Flags().Bool("trace", false, "Print the raw frames exchanged with the lock")
	return cmd
}

func runAction(cmd *cobra.Command, key string, a action) error {
	e, err := newEnv(cmd, logrus.PanicLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("%s %s", a.verb, key), "connecting")
	c, err := e.coordinator(ctx, key, progress.Callback())
	if err != nil {
		return err
	}
	defer c.Close()

	progress.Start()
	err = c.Execute(ctx, a.command)
	progress.Stop()

	out := cmd.OutOrStdout()
	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		printTrace(out, c.Trace())
	}
	if err != nil {
		return err
	}

	if st, ok := c.Cached(); ok {
		fmt.Fprintf(out, "%s: %s\n", c.Name(), renderState(st))
	}
	return nil
}

func renderState(st lock.State) string {
	text := st.String()
	switch {
	case st.IsLocked():
		text = color.New(color.FgGreen, color.Bold).Sprint(text)
	case st.Value == lock.StateUnlocked:
		text = color.New(color.FgYellow, color.Bold).Sprint(text)
	default:
		text = color.New(color.FgRed).Sprint(text)
	}
	return fmt.Sprintf("%s (last operated %s)", text, st.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
}

func printTrace(out io.Writer, log *lock.FrameLog) {
	records := log.Drain()
	if len(records) == 0 {
		return
	}
	dim := color.New(color.Faint)
	for _, r := range records {
		fmt.Fprintln(out, dim.Sprint(r.String()))
	}
	if lost := log.Overwritten(); lost > 0 {
		fmt.Fprintf(out, "(%d older frames dropped)\n", lost)
	}
}
