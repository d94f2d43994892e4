package roster

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrCodeEU/faceroll/pkg/matcher"
	"github.com/MrCodeEU/faceroll/pkg/recognition"
)

func testDescriptors(n int) []recognition.Descriptor {
	out := make([]recognition.Descriptor, n)
	for i := range out {
		for j := range out[i] {
			out[i][j] = float32(i+1) * float32(j) / 1000
		}
	}
	return out
}

func newStore(t *testing.T, encrypted bool) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), encrypted)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func TestNewStore(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name       string
		dataDir    string
		encryption bool
	}{
		{"without encryption", filepath.Join(tmpDir, "plain"), false},
		{"with encryption", filepath.Join(tmpDir, "sealed"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(tt.dataDir, tt.encryption)
			if err != nil || s == nil {
				t.Fatalf("NewStore() = %v, %v", s, err)
			}
			info, err := os.Stat(filepath.Join(tt.dataDir, "people"))
			if err != nil {
				t.Fatalf("people directory was not created: %v", err)
			}
			if info.Mode().Perm() != 0700 {
				t.Errorf("expected 0700, got %v", info.Mode().Perm())
			}
		})
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	for _, encrypted := range []bool{false, true} {
		s := newStore(t, encrypted)
		p := Person{
			Label:       "Ana",
			Descriptors: testDescriptors(2),
			EnrolledAt:  time.Now(),
			Metadata:    map[string]string{"device": "webcam"},
		}

		if err := s.Save(p); err != nil {
			t.Fatalf("Save (encrypted=%v) failed: %v", encrypted, err)
		}
		loaded, err := s.Load("Ana")
		if err != nil {
			t.Fatalf("Load (encrypted=%v) failed: %v", encrypted, err)
		}
		if loaded.Label != "Ana" || len(loaded.Descriptors) != 2 {
			t.Errorf("unexpected record %+v", loaded)
		}
		if loaded.Descriptors[1] != p.Descriptors[1] {
			t.Error("descriptor changed on round trip")
		}
		if loaded.Metadata["device"] != "webcam" {
			t.Error("metadata not preserved")
		}
	}
}

func TestStore_EncryptedFileIsSealed(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(Person{Label: "Ana", Descriptors: testDescriptors(1)}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "people", "Ana.enc"))
	if err != nil {
		t.Fatalf("failed to read sealed file: %v", err)
	}
	if len(data) > 0 && data[0] == '{' {
		t.Error("file does not appear to be encrypted")
	}

	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(filepath.Join(dir, "people", "Ana.enc"), data, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("Ana"); !errors.Is(err, ErrEncryption) {
		t.Errorf("expected ErrEncryption for tampered file, got %v", err)
	}
}

func TestStore_LoadNotFound(t *testing.T) {
	s := newStore(t, false)
	if _, err := s.Load("nobody"); !errors.Is(err, ErrPersonNotFound) {
		t.Errorf("expected ErrPersonNotFound, got %v", err)
	}
}

func TestValidateLabel(t *testing.T) {
	tests := []struct {
		label   string
		wantErr bool
	}{
		{"Ana", false},
		{"ana.maria", false},
		{"Ana Lopez", false},
		{"", true},
		{".", true},
		{"..", true},
		{".hidden", true},
		{"../etc/passwd", true},
		{`a\b`, true},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			err := ValidateLabel(tt.label)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateLabel(%q) error = %v, wantErr %v", tt.label, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidLabel) {
				t.Errorf("expected ErrInvalidLabel, got %v", err)
			}
		})
	}
}

func TestStore_SaveRejectsBadLabel(t *testing.T) {
	s := newStore(t, false)
	if err := s.Save(Person{Label: "../escape"}); !errors.Is(err, ErrInvalidLabel) {
		t.Errorf("expected ErrInvalidLabel, got %v", err)
	}
	if s.Exists("../escape") {
		t.Error("invalid label should never exist")
	}
}

func TestStore_Delete(t *testing.T) {
	s := newStore(t, false)
	if err := s.Save(Person{Label: "Luis", Descriptors: testDescriptors(1)}); err != nil {
		t.Fatal(err)
	}
	if !s.Exists("Luis") {
		t.Fatal("person should exist after save")
	}

	if err := s.Delete("Luis"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if s.Exists("Luis") {
		t.Error("person should not exist after delete")
	}
	if err := s.Delete("Luis"); !errors.Is(err, ErrPersonNotFound) {
		t.Errorf("expected ErrPersonNotFound, got %v", err)
	}
}

func TestStore_List(t *testing.T) {
	s := newStore(t, false)

	labels, err := s.List()
	if err != nil || len(labels) != 0 {
		t.Fatalf("expected empty list, got %v, %v", labels, err)
	}

	for _, name := range []string{"charlie", "alice", "bob"} {
		if err := s.Save(Person{Label: name, Descriptors: testDescriptors(1)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(s.peopleDir(), "subdir"), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.peopleDir(), "notes.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	labels, err = s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"alice", "bob", "charlie"}
	if len(labels) != len(want) {
		t.Fatalf("expected %v, got %v", want, labels)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("label %d: expected %s, got %s", i, want[i], labels[i])
		}
	}
}

func TestStore_Add(t *testing.T) {
	s := newStore(t, false)
	d := testDescriptors(2)

	if err := s.Add("Ana", d[0], map[string]string{"source": "cli"}); err != nil {
		t.Fatalf("Add (new) failed: %v", err)
	}
	if err := s.Add("Ana", d[1], map[string]string{"camera": "/dev/video0"}); err != nil {
		t.Fatalf("Add (existing) failed: %v", err)
	}

	p, err := s.Load("Ana")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Descriptors) != 2 || p.Descriptors[1] != d[1] {
		t.Errorf("expected two descriptors in order, got %d", len(p.Descriptors))
	}
	if p.Metadata["source"] != "cli" || p.Metadata["camera"] != "/dev/video0" {
		t.Errorf("metadata not merged: %v", p.Metadata)
	}
	if p.EnrolledAt.IsZero() {
		t.Error("EnrolledAt not set")
	}
}

func TestStore_Touch(t *testing.T) {
	s := newStore(t, false)
	old := time.Now().Add(-time.Hour)
	if err := s.Save(Person{Label: "Ana", Descriptors: testDescriptors(1), LastSeen: old}); err != nil {
		t.Fatal(err)
	}

	if err := s.Touch("Ana"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	p, _ := s.Load("Ana")
	if !p.LastSeen.After(old) {
		t.Error("LastSeen was not updated")
	}
	if err := s.Touch("nobody"); !errors.Is(err, ErrPersonNotFound) {
		t.Errorf("expected ErrPersonNotFound, got %v", err)
	}
}

func TestStore_Roster(t *testing.T) {
	s := newStore(t, true)
	d := testDescriptors(3)
	if err := s.Save(Person{Label: "Luis", Descriptors: d[2:]}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(Person{Label: "Ana", Descriptors: d[:2]}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(Person{Label: "Empty"}); err != nil {
		t.Fatal(err)
	}

	records, err := s.Roster()
	if err != nil {
		t.Fatalf("Roster failed: %v", err)
	}
	wantLabels := []string{"Ana", "Ana", "Luis"}
	if len(records) != len(wantLabels) {
		t.Fatalf("expected %d records, got %d", len(wantLabels), len(records))
	}
	for i, r := range records {
		if r.Label != wantLabels[i] {
			t.Errorf("record %d: expected %s, got %s", i, wantLabels[i], r.Label)
		}
		if len(r.Descriptor) != recognition.DescriptorSize {
			t.Errorf("record %d has %d values", i, len(r.Descriptor))
		}
	}

	m, err := matcher.FromRoster(records)
	if err != nil {
		t.Fatalf("roster should build a matcher: %v", err)
	}
	if got := m.FindBestMatch(d[2]); got.Label != "Luis" {
		t.Errorf("expected Luis, got %v", got)
	}

	labeled, err := s.Labeled()
	if err != nil {
		t.Fatal(err)
	}
	if len(labeled) != 2 || labeled[0].Label != "Ana" || len(labeled[0].Descriptors) != 2 {
		t.Errorf("unexpected labeled descriptors %+v", labeled)
	}
}

func TestStore_RosterSkipsOtherEncryption(t *testing.T) {
	dir := t.TempDir()
	plain, _ := NewStore(dir, false)
	sealed, _ := NewStore(dir, true)

	if err := plain.Save(Person{Label: "Ana", Descriptors: testDescriptors(1)}); err != nil {
		t.Fatal(err)
	}
	labels, err := sealed.List()
	if err != nil || len(labels) != 0 {
		t.Errorf("sealed store should not list plain records, got %v, %v", labels, err)
	}
}

func TestDeriveKey_Stable(t *testing.T) {
	if deriveKey() != deriveKey() {
		t.Error("key derivation should be deterministic")
	}
}

func BenchmarkStore_Roster(b *testing.B) {
	s, err := NewStore(b.TempDir(), false)
	if err != nil {
		b.Fatal(err)
	}
	d := testDescriptors(1)[0]
	for _, label := range []string{"a", "b", "c", "d", "e"} {
		if err := s.Add(label, d, nil); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Roster(); err != nil {
			b.Fatal(err)
		}
	}
}
