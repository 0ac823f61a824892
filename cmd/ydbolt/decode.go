package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/ydbolt/internal/lock"
	"github.com/srg/ydbolt/internal/ydble"
	"github.com/srg/ydbolt/pkg/config"
)

func newDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode captured frames or a state payload",
		Long: `Decodes one or more concatenated L1 frames and their L2 messages, or, with
--key, decrypts a state characteristic value. Spaces and colons in <hex> are
ignored.

Examples:
  ydbolt decode ab0006000e830100 91000a010027
  ydbolt decode --byte-order big ab00000683 0e0001 91000a000127
  ydbolt decode --key YD.LO1.a1b2c3d4e5f60718293a4b5c <32 hex digits>`,
		Args: cobra.MinimumNArgs(1),
		RunE: runDecode,
	}
	cmd.Flags().String("key", "", "Lock UUID; decrypts <hex> as a state payload")
	cmd.Flags().String("byte-order", "little", "Wire byte order (little or big)")
	return cmd
}

func runDecode(cmd *cobra.Command, args []string) error {
	cleaned := strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(strings.Join(args, ""))
	data, err := hex.DecodeString(strings.TrimPrefix(cleaned, "0x"))
	if err != nil {
		return fmt.Errorf("invalid hex input: %w", err)
	}

	order, _ := cmd.Flags().GetString("byte-order")
	cfg := config.DefaultConfig()
	cfg.Protocol.ByteOrder = order
	codec, err := cfg.Codec()
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	if key, _ := cmd.Flags().GetString("key"); key != "" {
		st, err := lock.DecodeState(codec, key, data)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "state:         %s (0x%02x)\n", st, st.Value)
		fmt.Fprintf(out, "last_operated: %s\n", st.Timestamp.UTC().Format(time.RFC3339))
		return nil
	}
	return decodeFrames(out, codec, data)
}

var flagNames = map[uint8]string{
	ydble.FlagsRequest:   "request",
	ydble.FlagsAck:       "ack",
	ydble.FlagsNotify:    "notify",
	ydble.FlagsNotifyAck: "notify-ack",
}

func decodeFrames(out io.Writer, codec ydble.Codec, data []byte) error {
	label := color.New(color.FgCyan)
	for n := 1; len(data) > 0; n++ {
		frame, remaining, err := codec.ParseL1(data)
		if err != nil {
			return fmt.Errorf("frame %d: %w", n, err)
		}
		if remaining > 0 {
			return fmt.Errorf("frame %d: %w: %d more bytes needed", n, ydble.ErrTruncated, remaining)
		}
		name, ok := flagNames[frame.Flags]
		if !ok {
			name = fmt.Sprintf("0x%02x", frame.Flags)
		}
		fmt.Fprintf(out, "#%d %s %s\n", n, label.Sprintf("%-10s", name), codec.DescribeFrame(frame))
		data = data[ydble.HeaderLen+len(frame.Payload):]
	}
	return nil
}
