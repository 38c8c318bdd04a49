// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package topo

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/z"
)

// LoadFile reads a topology profile from a YAML (or JSON) definition file.
// The profile is not validated, callers validate against their node set.
func LoadFile(path string) (Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, errors.Wrap(err, "read topology file")
	}

	if !strings.HasSuffix(path, ".json") {
		b, err = yaml.YAMLToJSON(b)
		if err != nil {
			return Profile{}, errors.Wrap(err, "yaml topology", z.Str("file", path))
		}
	}

	var p Profile
	if err := json.Unmarshal(b, &p); err != nil {
		return Profile{}, errors.Wrap(err, "unmarshal topology", z.Str("file", path))
	}

	return p, nil
}

// WriteFile writes the profile as a YAML definition file.
func (p Profile) WriteFile(path string) error {
	b, err := json.MarshalIndent(p, "", " ")
	if err != nil {
		return errors.Wrap(err, "marshal topology")
	}

	b, err = yaml.JSONToYAML(b)
	if err != nil {
		return errors.Wrap(err, "yaml topology")
	}

	if err := os.WriteFile(path, b, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, "write topology file")
	}

	return nil
}
