package cgroup

import (
	"os"
	"path/filepath"
	"testing"
)

func setupHierarchy(t *testing.T, fuzzer string, initial string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, fuzzer)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cpu.max"), []byte(initial), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestSetQuotaFlooredAtMinimum(t *testing.T) {
	root := setupHierarchy(t, "afl", "max 100000\n")
	c := NewV2Controller(root)
	if err := c.SetQuota("afl", 1); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, "afl", "cpu.max"))
	if err != nil {
		t.Fatal(err)
	}
	want := "1000 100000\n"
	if string(data) != want {
		t.Fatalf("cpu.max = %q, want %q", data, want)
	}
}

func TestSetQuotaPreservesPeriod(t *testing.T) {
	root := setupHierarchy(t, "afl", "max 50000\n")
	c := NewV2Controller(root)
	if err := c.SetQuota("afl", 25000); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, "afl", "cpu.max"))
	if err != nil {
		t.Fatal(err)
	}
	want := "25000 50000\n"
	if string(data) != want {
		t.Fatalf("cpu.max = %q, want %q", data, want)
	}
}
