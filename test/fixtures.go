// Package test provides fixture loaders shared across package tests:
// resolving the repository root and reading the sample SQL and EXPLAIN
// JSON files under test/fixtures.
package test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/queryopt/engine/internal/gateway"
	"github.com/queryopt/engine/internal/model"
)

var (
	rootPath string
	once     sync.Once
)

// RootPath resolves a path relative to the repository root (where go.mod
// resides).
func RootPath(t *testing.T) string {
	t.Helper()
	once.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			t.Fatalf("getwd: %v", err)
		}
		for {
			if _, err := os.Stat(filepath.Join(wd, "go.mod")); err == nil {
				rootPath = wd
				break
			}
			next := filepath.Dir(wd)
			if next == wd {
				t.Fatalf("go.mod not found from %s", wd)
			}
			wd = next
		}
	})
	return rootPath
}

// LoadSQLFixture reads a SQL file from test/fixtures relative to the
// repository root.
func LoadSQLFixture(t *testing.T, name string) string {
	t.Helper()
	root := RootPath(t)
	data, err := os.ReadFile(filepath.Join(root, "test", "fixtures", name))
	if err != nil {
		t.Fatalf("read sql fixture %s: %v", name, err)
	}
	return string(data)
}

// LoadPlanFixture reads and decodes an EXPLAIN (FORMAT JSON) fixture from
// test/fixtures relative to the repository root.
func LoadPlanFixture(t *testing.T, name string) *model.PlanTree {
	t.Helper()
	root := RootPath(t)
	data, err := os.ReadFile(filepath.Join(root, "test", "fixtures", name))
	if err != nil {
		t.Fatalf("read plan fixture %s: %v", name, err)
	}
	tree, err := gateway.DecodePlanJSON(data)
	if err != nil {
		t.Fatalf("decode plan fixture %s: %v", name, err)
	}
	return tree
}
