package blob

import (
	"context"
	"strings"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if mem.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %s", mem.Driver())
	}

	fs, err := Open(ctx, Config{FSRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	if fs.Driver() != DriverFilesystem {
		t.Fatalf("expected fs driver by default, got %s", fs.Driver())
	}

	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil || !strings.Contains(err.Error(), "bucket") {
		t.Fatalf("expected missing bucket error, got %v", err)
	}
	if _, err := Open(ctx, Config{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
