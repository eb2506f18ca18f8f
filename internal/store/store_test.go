package store

import (
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state_test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)

	_, ok := s.Get("group_enabled", "g1")
	if ok {
		t.Errorf("Get() ok = true, want false for missing path")
	}
}

func TestSetAndGet(t *testing.T) {
	s := testStore(t)

	s.Set(true, "group_enabled", "g1")

	val, ok := s.Get("group_enabled", "g1")
	if !ok {
		t.Fatalf("Get() ok = false, want true")
	}
	if val != true {
		t.Errorf("Get() = %v, want true", val)
	}
}

func TestSetOverwrite(t *testing.T) {
	s := testStore(t)

	s.Set(false, "group_enabled", "g1")
	s.Set(true, "group_enabled", "g1")

	val, _ := s.Get("group_enabled", "g1")
	if val != true {
		t.Errorf("Get() = %v, want true after overwrite", val)
	}
}

func TestSetCreatesIntermediateMaps(t *testing.T) {
	s := testStore(t)

	s.Set("1", "mqtt_input", "sensor/door", "value == '1'", "last_state", "last_raw_value")

	val, ok := s.Get("mqtt_input", "sensor/door", "value == '1'", "last_state", "last_raw_value")
	if !ok || val != "1" {
		t.Errorf("Get() = (%v, %v), want (\"1\", true)", val, ok)
	}
}

func TestDirtyTracksUnsavedChanges(t *testing.T) {
	s := testStore(t)

	if s.Dirty() {
		t.Errorf("Dirty() = true on fresh store, want false")
	}

	s.Set(true, "group_enabled", "g1")
	if !s.Dirty() {
		t.Errorf("Dirty() = false after Set, want true")
	}

	if err := s.Save(); err != nil {
		t.Fatalf("Save(): %v", err)
	}
	if s.Dirty() {
		t.Errorf("Dirty() = true after Save, want false")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state_test.db")

	s1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s1.Set(true, "group_enabled", "g1")
	s1.Set(false, "group_enabled", "g2")
	if err := s1.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s1.Close()

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	defer s2.Close()

	v1, ok1 := s2.Get("group_enabled", "g1")
	v2, ok2 := s2.Get("group_enabled", "g2")
	if !ok1 || v1 != true {
		t.Errorf("g1 = (%v, %v), want (true, true)", v1, ok1)
	}
	if !ok2 || v2 != false {
		t.Errorf("g2 = (%v, %v), want (false, true)", v2, ok2)
	}
}

func TestGetDefaultReturnsDefaultWhenAbsent(t *testing.T) {
	s := testStore(t)

	got := s.GetDefault(false, "group_enabled", "g3")
	if got != false {
		t.Errorf("GetDefault() = %v, want false", got)
	}
}
