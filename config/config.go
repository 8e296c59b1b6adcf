// Package config loads the storage layout file and environment defaults used
// by the dataindex command.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/chime-experiment/dataindex/database"
)

// Environment variables consulted for command defaults.
const (
	EnvDB       = "DATAINDEX_DB"
	EnvLogLevel = "DATAINDEX_LOG_LEVEL"
	EnvS3Bucket = "DATAINDEX_S3_BUCKET"
	EnvS3Region = "DATAINDEX_S3_REGION"

	// EnvS3Endpoint points the S3 client at a non-AWS gateway.
	EnvS3Endpoint = "DATAINDEX_S3_ENDPOINT"

	// EnvMetricsFile is a node_exporter textfile-collector path that batch
	// commands write their counters to on exit.
	EnvMetricsFile = "DATAINDEX_METRICS_FILE"
)

// GroupConfig is one storage group in the layout file.
type GroupConfig struct {
	Name       string `yaml:"name"`
	SmallSize  int64  `yaml:"small_size"`
	SmallGroup string `yaml:"small_group"`
	Notes      string `yaml:"notes"`
}

// NodeConfig is one storage node in the layout file.
type NodeConfig struct {
	Name             string  `yaml:"name"`
	Group            string  `yaml:"group"`
	Root             string  `yaml:"root"`
	Host             string  `yaml:"host"`
	Username         string  `yaml:"username"`
	Address          string  `yaml:"address"`
	Active           bool    `yaml:"active"`
	AutoImport       bool    `yaml:"auto_import"`
	Suspect          bool    `yaml:"suspect"`
	StorageType      string  `yaml:"storage_type"`
	MaxTotalGB       float64 `yaml:"max_total_gb"`
	MinAvailGB       float64 `yaml:"min_avail_gb"`
	MinDeleteAgeDays float64 `yaml:"min_delete_age_days"`
	Notes            string  `yaml:"notes"`
}

// TransferActionConfig is one transfer action in the layout file.
type TransferActionConfig struct {
	NodeFrom  string `yaml:"node_from"`
	GroupTo   string `yaml:"group_to"`
	AutoSync  bool   `yaml:"autosync"`
	AutoClean bool   `yaml:"autoclean"`
}

// LayoutFile is the root of a storage layout YAML document.
type LayoutFile struct {
	Groups          []GroupConfig          `yaml:"groups"`
	Nodes           []NodeConfig           `yaml:"nodes"`
	TransferActions []TransferActionConfig `yaml:"transfer_actions"`
}

// LoadStorageLayout reads and validates a storage layout file.
func LoadStorageLayout(path string) (*LayoutFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout file: %w", err)
	}
	return ParseStorageLayout(data)
}

// ParseStorageLayout parses and validates a storage layout document.
func ParseStorageLayout(data []byte) (*LayoutFile, error) {
	var lf LayoutFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("failed to parse layout file: %w", err)
	}
	if err := lf.Validate(); err != nil {
		return nil, err
	}
	return &lf, nil
}

// Validate checks names are present and unique and that every reference
// resolves within the file. References to groups or nodes that exist only
// in the database are not allowed.
func (lf *LayoutFile) Validate() error {
	var errs []error

	groups := map[string]bool{}
	for i, g := range lf.Groups {
		switch {
		case g.Name == "":
			errs = append(errs, fmt.Errorf("groups[%d]: missing name", i))
		case groups[g.Name]:
			errs = append(errs, fmt.Errorf("groups[%d]: duplicate group %q", i, g.Name))
		}
		groups[g.Name] = true
		if g.SmallSize < 0 {
			errs = append(errs, fmt.Errorf("group %q: negative small_size", g.Name))
		}
	}
	for _, g := range lf.Groups {
		if g.SmallGroup != "" && !groups[g.SmallGroup] {
			errs = append(errs, fmt.Errorf("group %q: unknown small_group %q", g.Name, g.SmallGroup))
		}
	}

	nodes := map[string]bool{}
	for i, n := range lf.Nodes {
		switch {
		case n.Name == "":
			errs = append(errs, fmt.Errorf("nodes[%d]: missing name", i))
		case nodes[n.Name]:
			errs = append(errs, fmt.Errorf("nodes[%d]: duplicate node %q", i, n.Name))
		}
		nodes[n.Name] = true
		if !groups[n.Group] {
			errs = append(errs, fmt.Errorf("node %q: unknown group %q", n.Name, n.Group))
		}
		if n.StorageType != "" && !database.ValidStorageType(strings.ToUpper(n.StorageType)) {
			errs = append(errs, fmt.Errorf("node %q: storage_type must be A, T or F", n.Name))
		}
	}

	for i, a := range lf.TransferActions {
		if !nodes[a.NodeFrom] {
			errs = append(errs, fmt.Errorf("transfer_actions[%d]: unknown node_from %q", i, a.NodeFrom))
		}
		if !groups[a.GroupTo] {
			errs = append(errs, fmt.Errorf("transfer_actions[%d]: unknown group_to %q", i, a.GroupTo))
		}
	}

	return errors.Join(errs...)
}

// StorageLayout converts the file into the form database.PopulateStorage takes.
func (lf *LayoutFile) StorageLayout() database.StorageLayout {
	var out database.StorageLayout
	for _, g := range lf.Groups {
		out.Groups = append(out.Groups, database.GroupSpec{
			Name:       g.Name,
			SmallSize:  g.SmallSize,
			SmallGroup: g.SmallGroup,
			Notes:      g.Notes,
		})
	}
	for _, n := range lf.Nodes {
		out.Nodes = append(out.Nodes, database.NodeSpec{
			Name:             n.Name,
			Group:            n.Group,
			Root:             n.Root,
			Host:             n.Host,
			Username:         n.Username,
			Address:          n.Address,
			Active:           n.Active,
			AutoImport:       n.AutoImport,
			Suspect:          n.Suspect,
			StorageType:      strings.ToUpper(n.StorageType),
			MaxTotalGB:       n.MaxTotalGB,
			MinAvailGB:       n.MinAvailGB,
			MinDeleteAgeDays: n.MinDeleteAgeDays,
			Notes:            n.Notes,
		})
	}
	for _, a := range lf.TransferActions {
		out.Actions = append(out.Actions, database.TransferActionSpec{
			NodeFrom:  a.NodeFrom,
			GroupTo:   a.GroupTo,
			AutoSync:  a.AutoSync,
			AutoClean: a.AutoClean,
		})
	}
	return out
}

// LoadEnv loads environment variables from the given .env files (or ./.env
// when none are given). Variables already set in the environment win. A
// missing file is not an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// GetEnv returns the value of key, or def when it is unset or empty.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
