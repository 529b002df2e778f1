package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"hot-crypto/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd(&config.Config{}, zerolog.Nop())

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, Version) {
		t.Errorf("output %q does not contain version %q", out, Version)
	}
}

func TestVersionCommandJSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json: %v", err)
	}

	var doc map[string]string
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if doc["version"] != Version {
		t.Errorf("version = %q, want %q", doc["version"], Version)
	}
}

func TestConfigPathCommand(t *testing.T) {
	out, err := execute(t, "config", "path")
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if !strings.Contains(out, "hot-crypto") {
		t.Errorf("config path output %q missing app directory", out)
	}
}

func TestUnknownCommandFails(t *testing.T) {
	if _, err := execute(t, "frobnicate"); err == nil {
		t.Fatal("unknown command should error")
	}
}
