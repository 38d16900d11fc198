package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/gattstream/session"
)

var (
	sendFile   string
	sendStruct string
)

var sendCmd = &cobra.Command{
	Use:   "send <peer-uuid> [message]",
	Short: "Connect to a peer and send one message",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		peer := args[0]
		payload, err := buildPayload(args[1:])
		if err != nil {
			return err
		}

		node, err := session.NewNode(cfg)
		if err != nil {
			return err
		}
		if err := node.Start(); err != nil {
			return err
		}
		defer node.Stop()

		if err := node.Connect(peer); err != nil {
			return fmt.Errorf("failed to connect to %s: %w", peer, err)
		}

		// Each chunk write is bounded by write_timeout on the link; the
		// message as a whole runs until it completes or is interrupted
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		res := <-node.SendMessage(ctx, peer, payload)
		if res.Err != nil {
			return fmt.Errorf("send failed: %w", res.Err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent %d bytes to %s (%d framed, %d chunks)\n",
			res.Payload, shortID(peer), res.Framed, res.Chunks)
		return nil
	},
}

// buildPayload picks the message from --struct, --file or the argument
func buildPayload(args []string) ([]byte, error) {
	switch {
	case sendStruct != "":
		var st structpb.Struct
		if err := protojson.Unmarshal([]byte(sendStruct), &st); err != nil {
			return nil, fmt.Errorf("invalid --struct JSON: %w", err)
		}
		return proto.Marshal(&st)
	case sendFile != "":
		return os.ReadFile(sendFile)
	case len(args) == 1:
		return []byte(args[0]), nil
	default:
		return nil, fmt.Errorf("nothing to send: pass a message, --file or --struct")
	}
}

func init() {
	sendCmd.Flags().StringVar(&sendFile, "file", "", "send the contents of a file")
	sendCmd.Flags().StringVar(&sendStruct, "struct", "", "send a JSON object encoded as a protobuf Struct")
	rootCmd.AddCommand(sendCmd)
}
