package status

import (
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestStatusPackageIsPure keeps the calculator and transition rules free of
// storage, resolution and service code.
func TestStatusPackageIsPure(t *testing.T) {
	allowed := map[string]bool{
		"passcore/pkg/domain": true,
		"gopkg.in/yaml.v3":    true,
	}
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, "passcore/internal/status")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	if len(pkgs) != 1 {
		t.Fatalf("expected one package, got %d", len(pkgs))
	}
	for path := range pkgs[0].Imports {
		first, _, _ := strings.Cut(path, "/")
		stdlib := !strings.Contains(first, ".") && first != "passcore"
		if !stdlib && !allowed[path] {
			t.Errorf("status imports %s", path)
		}
	}
}
