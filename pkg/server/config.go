package server

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pavelsim/gorelay/pkg/datastore"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads a YAML config file over DefaultConfig. Missing keys
// keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// GroupYAML represents a group in YAML config.
type GroupYAML struct {
	Name    string   `yaml:"name"`
	Owner   string   `yaml:"owner,omitempty"`
	Members []string `yaml:"members,omitempty"`
}

// GroupsConfig is the top-level YAML config for groups.
type GroupsConfig struct {
	Groups []GroupYAML `yaml:"groups"`
}

// LoadGroupsFromYAML reads a groups YAML file and creates/updates groups
// in the store.
func (s *Server) LoadGroupsFromYAML(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("read groups config: %w", err)
	}
	return ImportGroupsFromYAML(data, s.store)
}

// ImportGroupsFromYAML parses YAML data and creates/updates groups in the
// store. Existing groups are kept; listed members are added if their
// accounts exist.
func ImportGroupsFromYAML(data []byte, st datastore.DataStore) error {
	var cfg GroupsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse groups config: %w", err)
	}

	for _, g := range cfg.Groups {
		if err := ensureGroup(st, g); err != nil {
			slog.Error("failed to create group from config", "name", g.Name, "err", err)
		}
	}

	slog.Info("imported groups from YAML", "count", len(cfg.Groups))
	return nil
}

func ensureGroup(st datastore.DataStore, g GroupYAML) error {
	created, err := st.CreateGroup(g.Name, g.Owner)
	if err != nil {
		return err
	}
	if created {
		slog.Debug("created group from config", "name", g.Name, "owner", g.Owner)
	}

	members := g.Members
	if g.Owner != "" {
		members = append([]string{g.Owner}, members...)
	}
	for _, member := range members {
		added, err := st.AddUserToGroup(member, g.Name)
		if err != nil {
			return err
		}
		if !added {
			slog.Warn("skipped unknown member in groups config",
				"group", g.Name, "user", member)
		}
	}
	return nil
}

// ExportGroupsYAML exports all groups and their memberships as YAML.
func ExportGroupsYAML(st datastore.DataStore) ([]byte, error) {
	groups, err := st.ListGroups()
	if err != nil {
		return nil, err
	}

	cfg := GroupsConfig{}
	for _, g := range groups {
		members, err := st.GetGroupMembers(g.Name)
		if err != nil {
			return nil, err
		}
		cfg.Groups = append(cfg.Groups, GroupYAML{
			Name:    g.Name,
			Owner:   g.CreatedBy,
			Members: members,
		})
	}
	return yaml.Marshal(&cfg)
}
