package notify

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Directory resolves recipients for notifications.
type Directory interface {
	Admins(ctx context.Context) ([]string, error)
	ForRole(ctx context.Context, role string) ([]string, error)
	ForDepartment(ctx context.Context, company, department string) ([]string, error)
	ForUser(ctx context.Context, userID string) ([]string, error)
}

// DirectoryFile is the YAML layout of a StaticDirectory.
//
//	admins: [ops@example.com]
//	roles:
//	  manager: [m1@example.com]
//	departments:
//	  - company: acme
//	    department: finance
//	    members: [f1@example.com]
//	users:
//	  u-42: u42@example.com
type DirectoryFile struct {
	Admins      []string            `yaml:"admins"`
	Roles       map[string][]string `yaml:"roles"`
	Departments []DepartmentEntry   `yaml:"departments"`
	Users       map[string]string   `yaml:"users"`
}

// DepartmentEntry lists the members of one company department.
type DepartmentEntry struct {
	Company    string   `yaml:"company"`
	Department string   `yaml:"department"`
	Members    []string `yaml:"members"`
}

// StaticDirectory serves recipients from a DirectoryFile.
type StaticDirectory struct {
	file DirectoryFile
}

// NewStaticDirectory wraps an in-memory DirectoryFile.
func NewStaticDirectory(file DirectoryFile) *StaticDirectory {
	return &StaticDirectory{file: file}
}

// LoadDirectory reads a YAML directory file. A missing file yields an
// empty directory.
func LoadDirectory(path string) (*StaticDirectory, error) {
	if path == "" {
		return NewStaticDirectory(DirectoryFile{}), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewStaticDirectory(DirectoryFile{}), nil
		}
		return nil, fmt.Errorf("failed to read directory file %s: %w", path, err)
	}
	var file DirectoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse directory file %s: %w", path, err)
	}
	return NewStaticDirectory(file), nil
}

func (d *StaticDirectory) Admins(context.Context) ([]string, error) {
	return append([]string(nil), d.file.Admins...), nil
}

func (d *StaticDirectory) ForRole(_ context.Context, role string) ([]string, error) {
	for name, members := range d.file.Roles {
		if strings.EqualFold(name, role) {
			return append([]string(nil), members...), nil
		}
	}
	return nil, nil
}

func (d *StaticDirectory) ForDepartment(_ context.Context, company, department string) ([]string, error) {
	for _, e := range d.file.Departments {
		if strings.EqualFold(e.Company, company) && strings.EqualFold(e.Department, department) {
			return append([]string(nil), e.Members...), nil
		}
	}
	return nil, nil
}

func (d *StaticDirectory) ForUser(_ context.Context, userID string) ([]string, error) {
	if email, ok := d.file.Users[userID]; ok && email != "" {
		return []string{email}, nil
	}
	return nil, nil
}
