package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rdkcentral/dobbyd/pkg/types"
)

// LoadConfig reads and unmarshals an OCI bundle's config.json. dobbyd
// models the fields it cares about directly on types.OCIConfig rather
// than round-tripping the full OCI schema (an explicit out-of-scope
// external collaborator — see SPEC_FULL.md); anything else in the file
// is simply dropped rather than preserved byte-for-byte, a deliberate
// simplification since dobbyd never needs to forward untouched fields to
// the runtime beyond what it itself models.
func LoadConfig(path string) (*types.OCIConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := &types.OCIConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg back to path as indented JSON.
func SaveConfig(path string, cfg *types.OCIConfig) error {
	data, err := json.MarshalIndent(cfg, "", "\t")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
