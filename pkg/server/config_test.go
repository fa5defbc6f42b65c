package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pavelsim/gorelay/pkg/crypto"
	"github.com/pavelsim/gorelay/pkg/store"
	"gopkg.in/yaml.v3"
)

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	raw := []byte("addr: \"127.0.0.1:6000\"\ndb_path: /tmp/test.db\nlog_level: debug\n")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != "127.0.0.1:6000" || cfg.DBPath != "/tmp/test.db" || cfg.LogLevel != "debug" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	// Untouched keys keep defaults.
	if cfg.LogFormat != "text" || cfg.IdleTimeout != 10*time.Minute {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestImportExportGroupsYAML(t *testing.T) {
	st := store.NewMemory()
	for _, user := range []string{"alice", "bob", "carol"} {
		if outcome, err := st.RegisterUser(user, crypto.DigestPassword(user)); err != nil || !outcome.OK() {
			t.Fatalf("register %s: outcome=%v err=%v", user, outcome, err)
		}
	}

	in := []byte(`groups:
  - name: ops
    owner: alice
    members: [bob]
  - name: lounge
    owner: bob
    members: [alice, carol, ghost]
`)
	if err := ImportGroupsFromYAML(in, st); err != nil {
		t.Fatalf("ImportGroupsFromYAML: %v", err)
	}

	members, err := st.GetGroupMembers("ops")
	if err != nil {
		t.Fatalf("GetGroupMembers: %v", err)
	}
	if diff := cmp.Diff([]string{"alice", "bob"}, members); diff != "" {
		t.Fatalf("ops members (-want +got):\n%s", diff)
	}

	// Unknown members are skipped, known ones land.
	members, err = st.GetGroupMembers("lounge")
	if err != nil {
		t.Fatalf("GetGroupMembers: %v", err)
	}
	if diff := cmp.Diff([]string{"alice", "bob", "carol"}, members); diff != "" {
		t.Fatalf("lounge members (-want +got):\n%s", diff)
	}

	// Importing the same file again is a no-op, not an error.
	if err := ImportGroupsFromYAML(in, st); err != nil {
		t.Fatalf("re-import: %v", err)
	}

	out, err := ExportGroupsYAML(st)
	if err != nil {
		t.Fatalf("ExportGroupsYAML: %v", err)
	}
	var exported GroupsConfig
	if err := yaml.Unmarshal(out, &exported); err != nil {
		t.Fatalf("parse export: %v", err)
	}
	if len(exported.Groups) != 2 {
		t.Fatalf("exported groups: %+v", exported.Groups)
	}
	byName := map[string]GroupYAML{}
	for _, g := range exported.Groups {
		byName[g.Name] = g
	}
	if byName["ops"].Owner != "alice" || len(byName["ops"].Members) != 2 {
		t.Fatalf("exported ops: %+v", byName["ops"])
	}
	if byName["lounge"].Owner != "bob" || len(byName["lounge"].Members) != 3 {
		t.Fatalf("exported lounge: %+v", byName["lounge"])
	}
}
