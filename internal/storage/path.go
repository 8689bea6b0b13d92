package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	DefaultScheme = "abfss"
	DefaultHost   = "onelake.dfs.fabric.microsoft.com"
)

var ErrInvalidPathComponent = errors.New("invalid path component")

// PathBuilder maps a workspace, layer and table onto a location the engine can read.
type PathBuilder interface {
	TablePath(workspace, layer, table string) (string, error)
}

// OneLake builds abfss URIs for lakehouse tables. Layer and table are lowercased.
type OneLake struct {
	Scheme string
	Host   string
}

func (o OneLake) TablePath(workspace, layer, table string) (string, error) {
	workspace, layer, table, err := normalizeComponents(workspace, layer, table)
	if err != nil {
		return "", err
	}
	scheme := strings.TrimSpace(o.Scheme)
	if scheme == "" {
		scheme = DefaultScheme
	}
	host := strings.TrimSpace(o.Host)
	if host == "" {
		host = DefaultHost
	}
	return fmt.Sprintf("%s://%s@%s/%s.Lakehouse/Tables/%s", scheme, workspace, host, layer, table), nil
}

// LocalDir lays tables out on disk the same way OneLake does.
type LocalDir struct {
	Root string
}

func (l LocalDir) TablePath(workspace, layer, table string) (string, error) {
	if strings.TrimSpace(l.Root) == "" {
		return "", fmt.Errorf("local root is required")
	}
	workspace, layer, table, err := normalizeComponents(workspace, layer, table)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.Root, workspace, layer+".Lakehouse", "Tables", table), nil
}

func normalizeComponents(workspace, layer, table string) (string, string, string, error) {
	workspace = strings.TrimSpace(workspace)
	layer = strings.ToLower(strings.TrimSpace(layer))
	table = strings.ToLower(strings.TrimSpace(table))
	if err := validatePathComponent(workspace, "workspace"); err != nil {
		return "", "", "", err
	}
	if err := validatePathComponent(layer, "lakehouse layer"); err != nil {
		return "", "", "", err
	}
	if err := validatePathComponent(table, "table name"); err != nil {
		return "", "", "", err
	}
	return workspace, layer, table, nil
}

func validatePathComponent(value, field string) error {
	if value == "" || value == "." || value == ".." || strings.ContainsAny(value, `/\@?#`) {
		return fmt.Errorf("%w: %s %q", ErrInvalidPathComponent, field, value)
	}
	return nil
}
