package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"queue", "stroke", "swap", "dump"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

// run executes the CLI on a small image and returns its standard output.
func run(t *testing.T, args ...string) string {
	t.Helper()
	cmd := buildRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--width", "160", "--height", "96"}, args...))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("tiledemo %v: %v\n%s", args, err, errOut.String())
	}
	return out.String()
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "tiled.yaml")
	if err := os.WriteFile(cfg, []byte("workers: 2\npatch_size: 64\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"queue", []string{"queue", "--config", cfg, "--layers", "3", "--updates", "20", "--merge-alpha", "1"}, []string{"requests:  20", "dropped="}},
		{"stroke", []string{"stroke", "--dabs", "8", "--radius", "4"}, []string{"painted", "undone    layer=0 projection=0", "redone"}},
		{"cancel", []string{"stroke", "--dabs", "8", "--cancel"}, []string{"cancelled layer=0 projection=0"}},
		{"swap", []string{"swap", "--backend", "sqlite", "--compression", "zstd"}, []string{"backend:   sqlite (zstd)", "tiled_swap_tiles_out_total"}},
		{"dump", []string{"dump", "-o", filepath.Join(dir, "out.png"), "--tiles", filepath.Join(dir, "out.tiles"), "--thumb-width", "80"}, []string{"(80x48)", "tiles)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, tt.args...)
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}

	for _, name := range []string{"out.png", "out.tiles"} {
		if fi, err := os.Stat(filepath.Join(dir, name)); err != nil || fi.Size() == 0 {
			t.Errorf("%s not written: %v", name, err)
		}
	}
}

func TestConfigErrors(t *testing.T) {
	cmd := buildRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"queue", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}
