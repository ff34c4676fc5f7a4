package treestore

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestParseIndexLine(t *testing.T) {
	entry, ok := parseIndexLine(`20200301 a1b2c3d4e5f60718: "https://example.com/a b"` + "\n")
	if !ok {
		t.Fatal("parseIndexLine() rejected a well-formed line")
	}
	if entry.digest != "a1b2c3d4e5f60718" {
		t.Errorf("digest = %s", entry.digest)
	}
	if entry.key != "https://example.com/a b" {
		t.Errorf("key = %q", entry.key)
	}
	if want := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC); !entry.date.Equal(want) {
		t.Errorf("date = %v, want %v", entry.date, want)
	}
}

func TestParseIndexLineMalformed(t *testing.T) {
	malformed := []string{
		"",
		"   ",
		"20200301",
		"20200301 a1b2:",
		`2020-03-01 a1b2: "key"`,
		`20200301 a1b2 "key"`,
		`20200301 a1b2: unquoted key`,
		`20200301 : "key"`,
	}
	for _, line := range malformed {
		if _, ok := parseIndexLine(line); ok {
			t.Errorf("parseIndexLine(%q) accepted a malformed line", line)
		}
	}
}

func TestMalformedIndexLinesAreSkipped(t *testing.T) {
	store, memFs := setupTestStore(t)

	if err := store.Add("good", []byte("value")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// Corrupt the index with junk around the valid line.
	raw, err := afero.ReadFile(memFs, store.indexPath())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	corrupted := "garbage line\n\n" + string(raw) + "99999999 nonsense\n"
	if err := afero.WriteFile(memFs, store.indexPath(), []byte(corrupted), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "good" {
		t.Fatalf("Keys() = %v, want [good]", keys)
	}

	if err := store.InvalidateExpired(fixedNowFunc().AddDate(1, 0, 0)); err != nil {
		t.Fatalf("InvalidateExpired() over corrupt index error = %v", err)
	}
}

func TestReAddAppendsButDedupes(t *testing.T) {
	store, memFs := setupTestStore(t)

	for i := 0; i < 3; i++ {
		if err := store.Add("abc", []byte("v")); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	raw, err := afero.ReadFile(memFs, store.indexPath())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.Count(string(raw), "\n"); got != 3 {
		t.Fatalf("index has %d lines, want 3 appended lines", got)
	}

	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("Keys() = %v, want the duplicates collapsed", keys)
	}
}

func TestRemoveCollapsesDuplicateLines(t *testing.T) {
	store, memFs := setupTestStore(t)

	if err := store.Add("abc", []byte("v1")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := store.Add("abc", []byte("v2")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := store.Add("other", []byte("v")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := store.Remove("abc"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	raw, err := afero.ReadFile(memFs, store.indexPath())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.Contains(string(raw), store.DigestOf("abc")) {
		t.Fatal("index still references the removed digest")
	}
	if !strings.Contains(string(raw), store.DigestOf("other")) {
		t.Fatal("index lost an unrelated entry during removal")
	}
}

func TestRemoveToleratesMissingContentFile(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.Add("abc", []byte("v")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// Drop the content file behind the store's back.
	path, err := store.PathFor("abc")
	if err != nil {
		t.Fatalf("PathFor() error = %v", err)
	}
	if err := store.fs.Remove(path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	// Removal must warn and continue, cleaning the index line.
	if err := store.Remove("abc"); err != nil {
		t.Fatalf("Remove() with broken reference error = %v", err)
	}
	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("Keys() = %v, want empty", keys)
	}
}

func TestKeysSorted(t *testing.T) {
	store, _ := setupTestStore(t)

	for _, key := range []string{"zebra", "alpha", "mango"} {
		if err := store.Add(key, []byte(key)); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	want := []string{"alpha", "mango", "zebra"}
	for i, key := range want {
		if keys[i] != key {
			t.Fatalf("Keys() = %v, want %v", keys, want)
		}
	}
}
