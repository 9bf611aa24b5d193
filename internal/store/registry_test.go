package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRegistry_TouchFindList(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "registry.db"))

	list, err := r.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("List() on empty registry = %+v", list)
	}

	if _, err := r.Find("missing"); !IsNotFound(err) {
		t.Errorf("Find(missing) error = %v, want not found", err)
	}

	a := t.TempDir()
	b := t.TempDir()
	for _, e := range []struct {
		id   string
		path string
		at   int64
	}{
		{"aaaaaaaaaaaa", a, 100},
		{"bbbbbbbbbbbb", b, 200},
		// Touch replaces.
		{"aaaaaaaaaaaa", a, 300},
	} {
		if err := r.Touch(ProjectEntryFor(e.id, e.path, time.Unix(e.at, 0))); err != nil {
			t.Fatalf("Touch(%s) failed: %v", e.id, err)
		}
	}

	entry, err := r.Find("aaaaaaaaaaaa")
	if err != nil {
		t.Fatalf("Find() failed: %v", err)
	}
	if entry.Path != a || entry.LastSeen != 300 {
		t.Errorf("Find() = %+v, want path %s last seen 300", entry, a)
	}

	list, err = r.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(list))
	}
	// Most recently seen first.
	if list[0].ProjectID != "aaaaaaaaaaaa" || list[1].ProjectID != "bbbbbbbbbbbb" {
		t.Errorf("List() order = %s, %s", list[0].ProjectID, list[1].ProjectID)
	}
}

func TestRegistry_RemoveAndPrune(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "registry.db"))

	live := t.TempDir()
	dead := filepath.Join(t.TempDir(), "deleted")
	if err := os.Mkdir(dead, 0755); err != nil {
		t.Fatal(err)
	}

	for i, path := range []string{live, dead, live} {
		id := []string{"111111111111", "222222222222", "333333333333"}[i]
		if err := r.Touch(ProjectEntryFor(id, path, time.Unix(int64(i+1), 0))); err != nil {
			t.Fatalf("Touch(%s) failed: %v", id, err)
		}
	}
	if err := os.Remove(dead); err != nil {
		t.Fatal(err)
	}

	pruned, err := r.Prune()
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if len(pruned) != 1 || pruned[0].ProjectID != "222222222222" {
		t.Fatalf("Prune() = %+v, want only 222222222222", pruned)
	}

	if err := r.Remove("333333333333"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if err := r.Remove("unknown"); err != nil {
		t.Errorf("Remove(unknown) failed: %v", err)
	}

	list, err := r.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 1 || list[0].ProjectID != "111111111111" {
		t.Errorf("List() = %+v, want only 111111111111", list)
	}
}
