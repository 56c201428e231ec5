package config

import (
	"path/filepath"
	"testing"
)

func TestExampleRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatekeep.yaml")
	if err := WriteExample(path); err != nil {
		t.Fatalf("WriteExample() error = %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	set, err := cfg.PolicySet()
	if err != nil {
		t.Fatalf("PolicySet() error = %v", err)
	}
	if set.Len() == 0 {
		t.Fatal("example config should define policies")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
}
