package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/gattstream/config"
	"github.com/user/gattstream/session"
)

func TestDescribeMessage(t *testing.T) {
	st, err := structpb.NewStruct(map[string]interface{}{"hello": "world"})
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := proto.Marshal(st)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		msg  []byte
		want string
	}{
		{"empty", nil, "(empty)"},
		{"text", []byte("hi there"), `"hi there"`},
		{"binary", []byte{0xff, 0xfe, 0x00}, "(3 bytes)"},
		{"struct", encoded, "world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeMessage(tt.msg); !strings.Contains(got, tt.want) {
				t.Errorf("describeMessage() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestBuildPayloadStruct(t *testing.T) {
	sendStruct = `{"kind":"ping","n":3}`
	defer func() { sendStruct = "" }()

	payload, err := buildPayload(nil)
	if err != nil {
		t.Fatalf("buildPayload() error = %v", err)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(payload, &st); err != nil {
		t.Fatalf("payload is not a Struct: %v", err)
	}
	if st.GetFields()["kind"].GetStringValue() != "ping" {
		t.Errorf("kind = %v", st.GetFields()["kind"])
	}

	sendStruct = `not json`
	if _, err := buildPayload(nil); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestBuildPayloadArgs(t *testing.T) {
	payload, err := buildPayload([]string{"plain"})
	if err != nil || string(payload) != "plain" {
		t.Fatalf("buildPayload() = %q, %v", payload, err)
	}
	if _, err := buildPayload(nil); err == nil {
		t.Error("expected error with nothing to send")
	}
}

func TestSelftestCommand(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"selftest",
		"--config", filepath.Join(dir, "missing.yaml"),
		"--data-dir", dir,
		"--log-level", "error",
		"--count", "3",
		"--max-size", "3000",
		"--seed", "1",
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("selftest failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "OK: 3 messages each way") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestSendCommandWithZeroWriteTimeout(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("write_timeout: 0s\n"), 0600); err != nil {
		t.Fatal(err)
	}

	lcfg := config.Default()
	lcfg.DataDir = dir
	lcfg.DeviceID = "listener"
	listener, err := session.NewNode(lcfg)
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan []byte, 1)
	listener.OnMessageReceived(func(peer string, msg []byte) { got <- msg })
	if err := listener.Start(); err != nil {
		t.Fatal(err)
	}
	defer listener.Stop()

	t.Cleanup(func() { deviceID = "" })
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"send", "listener", "hello",
		"--config", cfgPath,
		"--data-dir", dir,
		"--id", "sender",
		"--log-level", "error",
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Sent 5 bytes to listener") {
		t.Errorf("unexpected output %q", out.String())
	}

	select {
	case msg := <-got:
		if string(msg) != "hello" {
			t.Errorf("listener got %q, want hello", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("listener never received the message")
	}
}
