package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotate(t *testing.T) {
	dir := t.TempDir()

	// Nothing to rotate before file logging is set up
	if err := Rotate(dir); err != nil {
		t.Fatalf("rotate before initialize: %v", err)
	}

	if err := Initialize(dir); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { Close() })

	Printf("before rotation")

	if err := Rotate(dir); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	var current, rotated bool
	for _, entry := range entries {
		switch {
		case entry.Name() == logFileName:
			current = true
		case strings.HasPrefix(entry.Name(), "opsatlas-") && strings.HasSuffix(entry.Name(), ".log"):
			rotated = true
		}
	}
	if !current {
		t.Error("no fresh log file after rotation")
	}
	if !rotated {
		t.Errorf("no timestamped log file after rotation, dir has %v", entries)
	}

	// The rotated file carries the pre-rotation output
	matches, err := filepath.Glob(filepath.Join(dir, "opsatlas-*.log"))
	if err != nil || len(matches) == 0 {
		t.Fatalf("glob failed: %v %v", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "before rotation") {
		t.Error("rotated file missing pre-rotation output")
	}

	Printf("after rotation")
}
