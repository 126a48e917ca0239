package common

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
)

func TestMessageTypeJSON(t *testing.T) {
	for mt := MsgTUnknown; mt <= MsgTReplicate; mt++ {
		data, err := json.Marshal(mt)
		if err != nil {
			t.Fatalf("Marshal(%d) error = %v", mt, err)
		}
		var got MessageType
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", data, err)
		}
		if got != mt {
			t.Errorf("round trip of %s = %s", mt, got)
		}
	}

	var mt MessageType
	if err := json.Unmarshal([]byte(`"setE"`), &mt); err == nil {
		t.Error("expected error for unknown message type")
	}
}

func TestResultResponse(t *testing.T) {
	ok := NewResultResponse(MsgTCreateAccount, 0, "Account created")
	if !ok.Ok || ok.Code != 0 {
		t.Errorf("expected success, got %+v", ok)
	}

	failed := NewSendMessageResponse(0, 4, "Recipient not found")
	if failed.Ok || failed.Code != 4 || failed.IDs != nil {
		t.Errorf("expected failure without ids, got %+v", failed)
	}

	sent := NewSendMessageResponse(7, 0, "Message sent")
	if len(sent.IDs) != 1 || sent.IDs[0] != 7 {
		t.Errorf("expected id 7, got %+v", sent.IDs)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logger.LogLevel
		wantErr bool
	}{
		{"debug", logger.DEBUG, false},
		{"INFO", logger.INFO, false},
		{"", logger.INFO, false},
		{"warn", logger.WARNING, false},
		{"warning", logger.WARNING, false},
		{"error", logger.ERROR, false},
		{"verbose", logger.INFO, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestServerConfigString(t *testing.T) {
	conf := ServerConfig{
		NodeID:      2,
		Peers:       map[uint64]string{1: "localhost:8080", 2: "localhost:8081"},
		Persistence: "file",
		DataFile:    "state.db",
		Transport:   ServerTransportConfig{Endpoint: "localhost:8081"},
		LogLevel:    "info",
	}
	if conf.PrimaryID() != 1 {
		t.Errorf("PrimaryID() = %d, want 1", conf.PrimaryID())
	}
	s := conf.String()
	for _, want := range []string{"follower", "Node 1: localhost:8080", "state.db"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() is missing %q:\n%s", want, s)
		}
	}
}
