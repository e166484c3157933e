package config

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "settings.cbor"))
	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.Role != RoleUnset || st.ProfileName != "" {
		t.Fatalf("st = %+v, want zero value", st)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "settings.cbor"))
	want := Settings{Role: RoleSecondary, ProfileName: "default"}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestFactoryResetClearsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.cbor")
	s := New(path)
	s.Save(Settings{Role: RolePrimary})
	if err := s.FactoryReset(); err != nil {
		t.Fatalf("FactoryReset: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load after reset: %v", err)
	}
	if got != (Settings{}) {
		t.Fatalf("got %+v after reset, want zero value", got)
	}
}
