// Package config reads the swarm's settings file (INI, parsed with
// gopkg.in/ini.v1) and the hatchling-config CSV it references, per
// spec.md §6, the offset rules of original_source's config_reader.py,
// and the merge order of SPEC_FULL.md §3.
package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"gopkg.in/ini.v1"
)

// Settings is the parsed [OVERMIND] section plus the optional [HATCHLING]
// defaults section.
type Settings struct {
	HatchlingConfigFile   string
	HatchlingOffset       int
	HatchlingCount        int
	MinHatchlingsPerColony int
	MaxHatchlingsPerColony int

	HatchlingDefaults map[string]string
}

// LoadSettings parses path as an INI file. A missing [OVERMIND] section
// is configuration-fatal, per spec.md §7.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		path = "settings.ini"
	}
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: read settings file %s: %w", path, err)
	}
	if !f.HasSection("OVERMIND") {
		return nil, fmt.Errorf("config: settings file %s is missing the [OVERMIND] section", path)
	}
	sec := f.Section("OVERMIND")

	s := &Settings{
		HatchlingConfigFile:    sec.Key("hatchling_config_file").String(),
		HatchlingOffset:        sec.Key("hatchling_offset").MustInt(0),
		MinHatchlingsPerColony: sec.Key("min_hatchlings_per_colony").MustInt(100),
		MaxHatchlingsPerColony: sec.Key("max_hatchlings_per_colony").MustInt(200),
		HatchlingCount:         sec.Key("hatchling_count").MustInt(-1),
	}
	if s.HatchlingOffset < 0 {
		s.HatchlingOffset = 0
	}

	s.HatchlingDefaults = make(map[string]string)
	if f.HasSection("HATCHLING") {
		for _, key := range f.Section("HATCHLING").Keys() {
			s.HatchlingDefaults[key.Name()] = key.Value()
		}
	}

	if s.HatchlingCount < 1 {
		configs, err := s.HatchlingConfigs()
		if err != nil {
			return nil, err
		}
		s.HatchlingCount = len(configs)
	}
	return s, nil
}

// HatchlingConfigs materializes the per-hatchling config list: if no CSV
// file is configured, HatchlingCount copies of the [HATCHLING] defaults;
// otherwise rows [offset, offset+count) of the CSV, dict-reader style,
// with the CSV row's columns taking precedence over (never overwritten
// by) the [HATCHLING] section's keys — per SPEC_FULL.md §3, which
// departs from original_source's config_reader.py merge order (see
// DESIGN.md).
func (s *Settings) HatchlingConfigs() ([]map[string]string, error) {
	if s.HatchlingConfigFile == "" {
		if s.HatchlingCount < 1 {
			return nil, nil
		}
		out := make([]map[string]string, s.HatchlingCount)
		for i := range out {
			out[i] = cloneMap(s.HatchlingDefaults)
		}
		return out, nil
	}

	f, err := os.Open(s.HatchlingConfigFile)
	if err != nil {
		return nil, fmt.Errorf("config: open hatchling config file %s: %w", s.HatchlingConfigFile, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // dict-reader semantics: short/long rows are allowed, like csv.DictReader
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("config: read CSV header from %s: %w", s.HatchlingConfigFile, err)
	}

	start := s.HatchlingOffset
	stop := -1
	if s.HatchlingCount > 0 {
		stop = start + s.HatchlingCount
	}

	var out []map[string]string
	for i := 0; ; i++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("config: parse CSV row %d of %s: %w", i, s.HatchlingConfigFile, err)
		}
		if i < start {
			continue
		}
		if stop > 0 && i >= stop {
			break
		}
		row := make(map[string]string, len(header))
		for col, name := range header {
			if col < len(record) {
				row[name] = record[col]
			}
		}
		for k, v := range s.HatchlingDefaults {
			if _, exists := row[k]; !exists {
				row[k] = v
			}
		}
		out = append(out, row)
	}

	if stop > 0 && len(out) < s.HatchlingCount {
		return nil, fmt.Errorf("config: hatchling config file %s has fewer than %d rows from offset %d",
			s.HatchlingConfigFile, s.HatchlingCount, start)
	}
	return out, nil
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
