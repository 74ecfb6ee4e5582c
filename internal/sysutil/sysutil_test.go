package sysutil

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	levels := map[string]zerolog.Level{
		"debug":     zerolog.DebugLevel,
		"  DeBuG  ": zerolog.DebugLevel,
		"info":      zerolog.InfoLevel,
		"":          zerolog.InfoLevel,
		"warning":   zerolog.WarnLevel,
		"WARN":      zerolog.WarnLevel,
		"error":     zerolog.ErrorLevel,
		"fatal":     zerolog.FatalLevel,
		"panic":     zerolog.PanicLevel,
		"trace":     zerolog.InfoLevel,
	}
	for in, want := range levels {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v; want %v", in, got, want)
		}
	}

	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })
	SetLogLevel("error")
	if zerolog.GlobalLevel() != zerolog.ErrorLevel {
		t.Fatalf("SetLogLevel did not update the global level")
	}
}

func TestIsTruthy(t *testing.T) {
	for v, want := range map[string]bool{
		"1": true, "TRUE": true, " yes ": true, "Y": true, "On": true,
		"": false, "0": false, "off": false, "  ": false, "enabled": false,
	} {
		if IsTruthy(v) != want {
			t.Fatalf("IsTruthy(%q) != %v", v, want)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{" ", "\t"}, ""},
		{[]string{"", "  zendesk  ", "intercom"}, "  zendesk  "},
		{[]string{"intercom", "zendesk"}, "intercom"},
	}
	for _, tc := range cases {
		if got := FirstNonEmpty(tc.in...); got != tc.want {
			t.Fatalf("FirstNonEmpty(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	var buf bytes.Buffer
	lg := NewLogger(&buf, "warn", false)
	lg.Info().Msg("dropped")
	lg.Warn().Str("store", "zendesk").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d; want 1: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if m["message"] != "kept" || m["store"] != "zendesk" || m["level"] != "warn" {
		t.Fatalf("unexpected entry: %v", m)
	}
	if _, ok := m["time"]; !ok {
		t.Fatalf("missing timestamp: %v", m)
	}
}

func TestNewLogger_Pretty(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })
	t.Setenv("NO_COLOR", "1")

	var buf bytes.Buffer
	lg := NewLogger(&buf, "info", true)
	lg.Info().Msg("listening")

	out := buf.String()
	if strings.HasPrefix(out, "{") || !strings.Contains(out, "listening") {
		t.Fatalf("expected console output, got %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("NO_COLOR should disable colors: %q", out)
	}
}
