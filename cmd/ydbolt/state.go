package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/ydbolt/internal/lock"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state <lock>",
		Short: "Read the lock state",
		Long: `Reads and decrypts the state characteristic of a lock.

Examples:
  # Read once
  ydbolt state front-door

  # Poll every 30 seconds until Ctrl+C
  ydbolt state front-door --watch=30s

  # Machine readable
  ydbolt state front-door --json`,
		Args: cobra.ExactArgs(1),
		RunE: runState,
	}
	cmd.Flags().String("watch", "", "Poll at interval (e.g. --watch=10s); 5s when given without a value")
	cmd.Flags().Lookup("watch").NoOptDefVal = "5s"
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

// stateView is the JSON rendering of a state.
type stateView struct {
	Lock         string `json:"lock"`
	State        string `json:"state"`
	Locked       bool   `json:"locked"`
	Value        byte   `json:"value"`
	LastOperated string `json:"last_operated"`
}

func runState(cmd *cobra.Command, args []string) error {
	var interval time.Duration
	if watch, _ := cmd.Flags().GetString("watch"); watch != "" {
		var err error
		if interval, err = time.ParseDuration(watch); err != nil || interval <= 0 {
			return fmt.Errorf("invalid watch interval: %q", watch)
		}
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	e, err := newEnv(cmd, logrus.PanicLevel)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	c, err := e.coordinator(ctx, args[0], nil)
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	read := func() error {
		st, err := c.GetState(ctx)
		if err != nil {
			return err
		}
		return printState(out, c.Name(), st, asJSON)
	}

	if err := read(); err != nil || interval == 0 {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := read(); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				e.logger.WithError(err).Warn("State poll failed")
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", c.Name(), FormatUserError(err))
			}
		}
	}
}

func printState(out io.Writer, name string, st lock.State, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintf(out, "%s: %s\n", name, renderState(st))
		return err
	}
	data, err := json.Marshal(stateView{
		Lock:         name,
		State:        st.String(),
		Locked:       st.IsLocked(),
		Value:        st.Value,
		LastOperated: st.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
