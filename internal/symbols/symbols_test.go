package symbols

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestComputeFingerprintStableAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	if err := os.WriteFile(path, []byte("package a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	first := computeFingerprint(dir, []string{"a.go"})
	second := computeFingerprint(dir, []string{"a.go"})
	if first != second {
		t.Fatalf("fingerprint changed across calls: %q vs %q", first, second)
	}
}

func TestComputeFingerprintChangesOnContentEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	if err := os.WriteFile(path, []byte("package a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	before := computeFingerprint(dir, []string{"a.go"})
	if err := os.WriteFile(path, []byte("package a\n\nfunc f() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	after := computeFingerprint(dir, []string{"a.go"})
	if before == after {
		t.Fatal("expected fingerprint to change after content edit")
	}
}

func TestSortEntriesOrdersByFileThenLineThenName(t *testing.T) {
	in := []Entry{
		{File: "b.go", Line: 1, Name: "z"},
		{File: "a.go", Line: 5, Name: "y"},
		{File: "a.go", Line: 2, Name: "x"},
	}
	out := sortEntries(in)
	want := []string{"a.go", "a.go", "b.go"}
	for i, w := range want {
		if out[i].File != w {
			t.Fatalf("entry %d file = %q, want %q", i, out[i].File, w)
		}
	}
	if out[0].Name != "x" || out[1].Name != "y" {
		t.Fatalf("unexpected order within a.go: %+v", out[:2])
	}
}

func TestFormatEntriesGroupsByFile(t *testing.T) {
	entries := []Entry{
		{File: "a.go", Line: 1, Name: "Foo", Kind: "function"},
		{File: "a.go", Line: 9, Name: "Bar", Kind: "function", Language: "Go"},
	}
	out := formatEntries(entries)
	want := "a.go:\n  - function Foo (line 1)\n  - function [Go] Bar (line 9)"
	if out != want {
		t.Fatalf("formatEntries =\n%q\nwant\n%q", out, want)
	}
}

func TestParseCtagsLineExtractsFields(t *testing.T) {
	workspace := t.TempDir()
	abs := filepath.Join(workspace, "pkg", "foo.go")
	raw := `{"_type":"tag","name":"Handler","path":"` + abs + `","line":12,"kind":"func","language":"Go"}`
	entry, ok := parseCtagsLine(raw, workspace)
	if !ok {
		t.Fatal("expected parseCtagsLine to succeed")
	}
	if entry.Name != "Handler" || entry.Line != 12 || entry.Kind != "func" || entry.Language != "Go" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.File != filepath.ToSlash(filepath.Join("pkg", "foo.go")) {
		t.Fatalf("File = %q", entry.File)
	}
}

func TestParseCtagsLineRejectsNonTagType(t *testing.T) {
	if _, ok := parseCtagsLine(`{"_type":"ptag","name":"TAG_KIND_DESCRIPTION"}`, t.TempDir()); ok {
		t.Fatal("expected non-tag lines to be rejected")
	}
}

func TestPruneStaleRemovesOldCache(t *testing.T) {
	workspace := t.TempDir()
	idx := New(workspace)
	_, metaPath := idx.indexPaths()
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-48 * time.Hour).Format(time.RFC3339)
	if err := os.WriteFile(metaPath, []byte(`{"fingerprint":"deadbeef","source":"ctags","generated_at":"`+stale+`"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	removed, err := idx.PruneStale(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if !removed {
		t.Fatal("expected a stale cache to be removed")
	}
	if _, err := os.Stat(filepath.Join(workspace, cacheDirName)); !os.IsNotExist(err) {
		t.Fatalf("expected cache dir removed, stat err = %v", err)
	}
}

func TestPruneStaleLeavesFreshCache(t *testing.T) {
	workspace := t.TempDir()
	idx := New(workspace)
	_, metaPath := idx.indexPaths()
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := writeMeta(metaPath, "deadbeef"); err != nil {
		t.Fatal(err)
	}

	removed, err := idx.PruneStale(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if removed {
		t.Fatal("expected a freshly generated cache to survive")
	}
	if _, err := os.Stat(filepath.Join(workspace, cacheDirName)); err != nil {
		t.Fatalf("expected cache dir to remain: %v", err)
	}
}

func TestPruneStaleNoCacheIsNoop(t *testing.T) {
	idx := New(t.TempDir())
	removed, err := idx.PruneStale(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if removed {
		t.Fatal("expected no-op when no cache exists")
	}
}
