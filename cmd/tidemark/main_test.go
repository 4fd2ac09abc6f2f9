package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tidemark/internal/config"
	"tidemark/internal/handoff"
)

func TestReadFloats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.txt")
	content := "1.5\n\n# depth horizon two\n2.25\n-3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := readFloats(path)
	if err != nil {
		t.Fatalf("readFloats: %v", err)
	}
	if diff := cmp.Diff([]float64{1.5, 2.25, -3}, got); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}

	bad := filepath.Join(t.TempDir(), "bad.txt")
	if err := os.WriteFile(bad, []byte("1.5\nnope\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := readFloats(bad); err == nil {
		t.Error("non-numeric line accepted")
	}
}

func TestOpenStoreSelection(t *testing.T) {
	mem, err := openStore(config.Run{})
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	if _, ok := mem.(*handoff.MemStore); !ok {
		t.Errorf("got %T, want *handoff.MemStore", mem)
	}

	dir := filepath.Join(t.TempDir(), "handoff")
	fs, err := openStore(config.Run{HandoffDir: dir})
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	if _, ok := fs.(*handoff.FSStore); !ok {
		t.Errorf("got %T, want *handoff.FSStore", fs)
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"calibrate", "reconstruct", "validate", "worker"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered: %v", name, err)
		}
	}
}
