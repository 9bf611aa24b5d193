package digest

import (
	"strings"
	"testing"
	"time"

	"github.com/chronodiff/chronodiff/internal/schema"
)

func TestBytes(t *testing.T) {
	a := Bytes([]byte("hello\n"))
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if !ValidHex(a) {
		t.Errorf("digest %q is not lowercase hex", a)
	}
	if a != Bytes([]byte("hello\n")) {
		t.Error("digest is not deterministic")
	}
	if a == Bytes([]byte("hello")) {
		t.Error("different content produced the same digest")
	}
}

func TestReaderMatchesBytes(t *testing.T) {
	content := strings.Repeat("chronodiff ", 10000)
	got, err := Reader(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Reader() failed: %v", err)
	}
	if want := Bytes([]byte(content)); got != want {
		t.Errorf("Reader() = %s, want %s", got, want)
	}
}

func TestProjectID(t *testing.T) {
	id := ProjectID("/home/user/project")
	if len(id) != IDLength {
		t.Fatalf("expected %d chars, got %q", IDLength, id)
	}
	if id != ProjectID("/home/user/project") {
		t.Error("project id is not deterministic")
	}
	if id == ProjectID("/home/user/other") {
		t.Error("different roots produced the same project id")
	}
}

func TestRecordID_Deterministic(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_123)
	files := []schema.FileRecord{
		{Path: "a.txt", Op: schema.OpAdded, AfterSHA: Bytes([]byte("a"))},
		{Path: "b.txt", Op: schema.OpDeleted, BeforeSHA: Bytes([]byte("b"))},
	}

	id := RecordID("proj", start, files)
	if len(id) != IDLength {
		t.Fatalf("expected %d chars, got %q", IDLength, id)
	}
	if again := RecordID("proj", start, files); again != id {
		t.Errorf("RecordID not deterministic: %s != %s", again, id)
	}

	// sub-millisecond differences are not part of the id
	if other := RecordID("proj", start.Add(300*time.Microsecond), files); other != id {
		t.Errorf("expected millisecond truncation, got %s != %s", other, id)
	}

	if other := RecordID("proj", start.Add(time.Millisecond), files); other == id {
		t.Error("different start time produced the same id")
	}
	if other := RecordID("other", start, files); other == id {
		t.Error("different project produced the same id")
	}

	changed := append([]schema.FileRecord(nil), files...)
	changed[0].AfterSHA = Bytes([]byte("a2"))
	if other := RecordID("proj", start, changed); other == id {
		t.Error("different after-hash produced the same id")
	}
}

func TestValidHex(t *testing.T) {
	for _, s := range []string{"0", "abcdef0123", Bytes(nil)} {
		if !ValidHex(s) {
			t.Errorf("ValidHex(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"", "ABC", "../etc", "12g4", "ab/cd"} {
		if ValidHex(s) {
			t.Errorf("ValidHex(%q) = true, want false", s)
		}
	}
}
