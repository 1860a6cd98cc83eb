package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "json format", config: &Config{Level: zerolog.InfoLevel, Format: "json", Output: &bytes.Buffer{}}},
		{name: "text format", config: &Config{Level: zerolog.DebugLevel, Format: "text", Output: &bytes.Buffer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.config)
			l.Info().Msg("ok")
		})
	}
}

func TestNewJSONFormatWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: zerolog.InfoLevel, Format: "json", Output: &buf})
	l.Info().Msg("hello")
	if !strings.Contains(buf.String(), `"message":"hello"`) {
		t.Errorf("expected json output, got %q", buf.String())
	}
}

func TestLevelForDeb(t *testing.T) {
	cases := map[int]zerolog.Level{
		0: zerolog.ErrorLevel,
		1: zerolog.WarnLevel,
		2: zerolog.InfoLevel,
		3: zerolog.InfoLevel,
		4: zerolog.DebugLevel,
		9: zerolog.DebugLevel,
	}
	for deb, want := range cases {
		if got := LevelForDeb(deb); got != want {
			t.Errorf("LevelForDeb(%d) = %v, want %v", deb, got, want)
		}
	}
}

func TestForWorkerAddsTid(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Level: zerolog.InfoLevel, Format: "json", Output: &buf})
	l := ForWorker(base, 3)
	l.Info().Msg("segment done")
	if !strings.Contains(buf.String(), `"tid":3`) {
		t.Errorf("expected tid field, got %q", buf.String())
	}
}
