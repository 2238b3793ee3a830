package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildStackRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatgepeto.yml")
	cfgYAML := "data_dir: " + filepath.Join(dir, "data") + "\n" +
		"chunking:\n  chunk_size: 512\n  overlap: 600\n"
	if err := os.WriteFile(path, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	old := cfgFile
	cfgFile = path
	defer func() { cfgFile = old }()

	_, err := buildStack()
	if err == nil {
		t.Fatal("buildStack() accepted overlap larger than chunk size")
	}
	if !strings.Contains(err.Error(), "invalid config") {
		t.Errorf("buildStack() error = %v, want config validation failure", err)
	}
}
