package cli

import "testing"

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()
	if cmd.Use != "gatekeep" {
		t.Fatalf("Use = %q, want gatekeep", cmd.Use)
	}
	for _, name := range []string{"server", "test", "replay", "config"} {
		if sub, _, err := cmd.Find([]string{name}); err != nil || sub.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
