package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sigilsec/sentinel/core"
)

// seedFile is the YAML shape of a connector seed file:
//
//	connectors:
//	  - id: cw-1
//	    organizationId: org-1
//	    name: cloudwatch-prod
//	    type: api
//	    configuration:
//	      api:
//	        endpoint: https://logs.example.com
type seedFile struct {
	Connectors []*core.ConnectorRecord `yaml:"connectors"`
}

// LoadSeed parses a connector seed file.
func LoadSeed(path string) ([]*core.ConnectorRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for _, rec := range f.Connectors {
		if !rec.Type.Valid() {
			return nil, fmt.Errorf("seed connector %q has unknown type %q: %w", rec.Name, rec.Type, core.ErrConfigInvalid)
		}
		if err := rec.Configuration.Validate(rec.Type); err != nil {
			return nil, fmt.Errorf("seed connector %q: %w", rec.Name, err)
		}
	}
	return f.Connectors, nil
}

// Seed loads a seed file into the store. Existing rows with the same id
// are replaced.
func (s *MemoryStore) Seed(ctx context.Context, path string) (int, error) {
	records, err := LoadSeed(path)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if err := s.PutConnector(ctx, rec); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}
