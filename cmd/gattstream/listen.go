package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/gattstream/session"
)

var listenConnect []string

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Accept connections and print every message received",
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := session.NewNode(cfg)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		node.OnMessageReceived(func(peer string, msg []byte) {
			fmt.Fprintf(out, "%s %s\n", shortID(peer), describeMessage(msg))
		})

		if err := node.Start(); err != nil {
			return err
		}
		defer node.Stop()
		fmt.Fprintf(out, "Listening as %s\n", node.ID())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			for {
				select {
				case peer := <-node.Connected():
					role, _ := node.Role(peer)
					fmt.Fprintf(out, "Connected to %s as %s\n", shortID(peer), role)
				case <-ctx.Done():
					return
				}
			}
		}()

		for _, peer := range listenConnect {
			if err := node.Connect(peer); err != nil {
				return fmt.Errorf("failed to connect to %s: %w", peer, err)
			}
		}

		<-ctx.Done()
		return nil
	},
}

// describeMessage renders a message as protojson when it is a Struct,
// as text when it is UTF-8, and as a byte count otherwise
func describeMessage(msg []byte) string {
	if len(msg) == 0 {
		return "(empty)"
	}
	var st structpb.Struct
	if err := proto.Unmarshal(msg, &st); err == nil && len(st.GetFields()) > 0 {
		if js, err := protojson.Marshal(&st); err == nil {
			return string(js)
		}
	}
	if utf8.Valid(msg) {
		return fmt.Sprintf("%q", msg)
	}
	return fmt.Sprintf("(%d bytes)", len(msg))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	listenCmd.Flags().StringSliceVar(&listenConnect, "connect", nil, "peer UUIDs to dial after starting")
	rootCmd.AddCommand(listenCmd)
}
