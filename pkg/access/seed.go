package access

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/archivum/docflow/pkg/authz"
)

// maxSeedFileSize bounds the policy seed file (1 MiB).
const maxSeedFileSize = 1 << 20

// SeedPolicy is one policy in a seed file.
type SeedPolicy struct {
	PolicyInput `yaml:",inline"`
	Active      bool `yaml:"active"`
}

// SeedFile is the YAML layout of a policy seed file.
//
//	policies:
//	  - name: managers-same-department
//	    conditionType: expression
//	    condition: user_role == "manager" and user_department == document_department
//	    action: approve
//	    priority: 10
//	    active: true
type SeedFile struct {
	Policies []SeedPolicy `yaml:"policies"`
}

// SyncReport summarises one seed sync.
type SyncReport struct {
	Version   string `json:"version"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
}

// LoadSeedFile reads and parses a seed file and returns it with the hex
// SHA-256 of its content.
func LoadSeedFile(path string) (*SeedFile, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read policy seed %s: %w", path, err)
	}
	if len(data) > maxSeedFileSize {
		return nil, "", fmt.Errorf("policy seed %s exceeds %d bytes", path, maxSeedFileSize)
	}
	sum := sha256.Sum256(data)

	var file SeedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, "", fmt.Errorf("parse policy seed %s: %w", path, err)
	}
	seen := map[string]bool{}
	for i := range file.Policies {
		p := &file.Policies[i]
		if err := p.validate(); err != nil {
			return nil, "", fmt.Errorf("policy seed %s: entry %d: %w", path, i, err)
		}
		if seen[p.Name] {
			return nil, "", fmt.Errorf("policy seed %s: duplicate policy %q", path, p.Name)
		}
		seen[p.Name] = true
	}
	return &file, hex.EncodeToString(sum[:]), nil
}

// SyncFile loads path and upserts its policies by name. Policies missing
// from the file are left untouched.
func (s *PolicyStore) SyncFile(ctx context.Context, path string, actor authz.Actor) (*SyncReport, error) {
	file, version, err := LoadSeedFile(path)
	if err != nil {
		return nil, err
	}
	report, err := s.Sync(ctx, file.Policies, actor)
	if err != nil {
		return nil, err
	}
	report.Version = version
	return report, nil
}

// Sync upserts policies by name through the regular store operations, so
// every change is audited.
func (s *PolicyStore) Sync(ctx context.Context, policies []SeedPolicy, actor authz.Actor) (*SyncReport, error) {
	report := &SyncReport{}
	for _, sp := range policies {
		existing, err := s.findByName(ctx, sp.Name)
		if err != nil {
			return report, err
		}

		var p *PolicyRecord
		switch {
		case existing == nil:
			if p, err = s.Create(ctx, sp.PolicyInput, actor); err != nil {
				return report, err
			}
			report.Created++
		case seedMatches(existing, sp):
			report.Unchanged++
			continue
		case sameDefinition(existing, sp.PolicyInput):
			p = existing
			report.Updated++
		default:
			if p, err = s.Update(ctx, existing.ID, sp.PolicyInput, actor); err != nil {
				return report, err
			}
			report.Updated++
		}

		if sp.Active && !p.Active {
			_, err = s.Activate(ctx, p.ID, actor)
		} else if !sp.Active && p.Active {
			_, err = s.Deactivate(ctx, p.ID, actor)
		}
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

func (s *PolicyStore) findByName(ctx context.Context, name string) (*PolicyRecord, error) {
	var p PolicyRecord
	err := s.db.WithContext(ctx).First(&p, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get policy by name: %w", err)
	}
	return &p, nil
}

func sameDefinition(p *PolicyRecord, in PolicyInput) bool {
	return p.Description == in.Description &&
		p.ConditionType == in.ConditionType &&
		p.Condition == in.Condition &&
		p.Action == in.Action &&
		p.Priority == in.Priority
}

func seedMatches(p *PolicyRecord, sp SeedPolicy) bool {
	return sameDefinition(p, sp.PolicyInput) && p.Active == sp.Active
}
