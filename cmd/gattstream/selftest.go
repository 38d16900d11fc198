package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/user/gattstream/config"
	"github.com/user/gattstream/session"
)

var (
	selftestCount   int
	selftestMaxSize int
	selftestSeed    int64
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run two in-process devices and verify random messages survive the round trip",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.MkdirTemp("", "gattstream-selftest-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)

		rng := rand.New(rand.NewSource(selftestSeed))
		out := cmd.OutOrStdout()
		start := time.Now()

		summary, err := runSelftest(dir, rng, selftestCount, selftestMaxSize)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "OK: %d messages each way, %d payload bytes, %d framed bytes in %s\n",
			selftestCount, summary.payload, summary.framed, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

type selftestSummary struct {
	payload int
	framed  int
}

func nodeConfig(dir string) *config.Config {
	c := *cfg
	c.DataDir = dir
	c.DeviceID = uuid.NewString()
	return &c
}

func runSelftest(dir string, rng *rand.Rand, count, maxSize int) (selftestSummary, error) {
	var summary selftestSummary

	central, err := session.NewNode(nodeConfig(dir))
	if err != nil {
		return summary, err
	}
	peripheral, err := session.NewNode(nodeConfig(dir))
	if err != nil {
		return summary, err
	}

	var mu sync.Mutex
	received := make(map[string][][]byte)
	record := func(peer string, msg []byte) {
		mu.Lock()
		defer mu.Unlock()
		received[peer] = append(received[peer], msg)
	}
	central.OnMessageReceived(record)
	peripheral.OnMessageReceived(record)

	if err := central.Start(); err != nil {
		return summary, err
	}
	defer central.Stop()
	if err := peripheral.Start(); err != nil {
		return summary, err
	}
	defer peripheral.Stop()

	if err := central.Connect(peripheral.ID()); err != nil {
		return summary, err
	}
	select {
	case <-peripheral.Connected():
	case <-time.After(5 * time.Second):
		return summary, fmt.Errorf("peripheral never saw the connection")
	}

	sent := map[string][][]byte{}
	ctx := context.Background()
	for i := 0; i < count; i++ {
		for _, pair := range [][2]*session.Node{{central, peripheral}, {peripheral, central}} {
			from, to := pair[0], pair[1]
			msg := make([]byte, rng.Intn(maxSize+1))
			rng.Read(msg)

			res := <-from.SendMessage(ctx, to.ID(), msg)
			if res.Err != nil {
				return summary, fmt.Errorf("message %d from %s: %w", i, shortID(from.ID()), res.Err)
			}
			sent[from.ID()] = append(sent[from.ID()], msg)
			summary.payload += res.Payload
			summary.framed += res.Framed
		}
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		mu.Lock()
		done := len(received[central.ID()]) == count && len(received[peripheral.ID()]) == count
		mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			return summary, fmt.Errorf("timed out waiting for deliveries")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for from, msgs := range sent {
		for i, msg := range msgs {
			if !bytes.Equal(received[from][i], msg) {
				return summary, fmt.Errorf("message %d from %s corrupted", i, shortID(from))
			}
		}
	}
	return summary, nil
}

func init() {
	selftestCmd.Flags().IntVar(&selftestCount, "count", 20, "messages per direction")
	selftestCmd.Flags().IntVar(&selftestMaxSize, "max-size", 8192, "largest random message in bytes")
	selftestCmd.Flags().Int64Var(&selftestSeed, "seed", time.Now().UnixNano(), "random seed")
	rootCmd.AddCommand(selftestCmd)
}
