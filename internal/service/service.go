// Package service assembles the engine session, runner and optional
// export and discovery clients from configuration.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/duckmesh/lakequery/internal/config"
	"github.com/duckmesh/lakequery/internal/export"
	"github.com/duckmesh/lakequery/internal/lakehouse"
	"github.com/duckmesh/lakequery/internal/query"
	duckdbengine "github.com/duckmesh/lakequery/internal/query/duckdb"
	"github.com/duckmesh/lakequery/internal/storage"
	"github.com/duckmesh/lakequery/internal/storage/onelake"
	s3store "github.com/duckmesh/lakequery/internal/storage/s3"
)

type Service struct {
	Session  *duckdbengine.Session
	Runner   *lakehouse.Runner
	Paths    storage.PathBuilder
	Exporter *export.Exporter
}

// Open starts a DuckDB session and wraps it in a runner. The exporter is only
// built when export is enabled.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Service, error) {
	engineCfg, err := EngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	session, err := duckdbengine.Open(ctx, engineCfg)
	if err != nil {
		return nil, fmt.Errorf("open engine session: %w", err)
	}

	svc := &Service{Session: session, Paths: PathBuilder(cfg)}
	svc.Runner = lakehouse.NewRunner(session, svc.Paths, logger)

	if cfg.Export.Enabled {
		store, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.Export.Endpoint,
			Region:           cfg.Export.Region,
			Bucket:           cfg.Export.Bucket,
			AccessKeyID:      cfg.Export.AccessKeyID,
			SecretAccessKey:  cfg.Export.SecretAccessKey,
			UseSSL:           cfg.Export.UseSSL,
			Prefix:           cfg.Export.Prefix,
			AutoCreateBucket: cfg.Export.AutoCreateBucket,
		})
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("initialize export store: %w", err)
		}
		svc.Exporter = export.NewExporter(store, logger)
	}
	return svc, nil
}

func (s *Service) Close() error {
	if s == nil || s.Session == nil {
		return nil
	}
	return s.Session.Close()
}

// PathBuilder picks the local directory layout when a local root is set.
func PathBuilder(cfg config.Config) storage.PathBuilder {
	if cfg.Lakehouse.LocalRoot != "" {
		return storage.LocalDir{Root: cfg.Lakehouse.LocalRoot}
	}
	return storage.OneLake{Scheme: cfg.Lakehouse.Scheme, Host: cfg.Lakehouse.Host}
}

func EngineConfig(cfg config.Config) (duckdbengine.Config, error) {
	format, err := query.ParseFormat(cfg.Lakehouse.Format)
	if err != nil {
		return duckdbengine.Config{}, err
	}
	return duckdbengine.Config{
		DatabasePath: cfg.Engine.DatabasePath,
		Format:       format,
		Extensions:   cfg.Engine.Extensions,
		Threads:      cfg.Engine.Threads,
		MemoryLimit:  cfg.Engine.MemoryLimit,
		Azure: duckdbengine.AzureSecret{
			Mode:             duckdbengine.SecretMode(cfg.Azure.AuthMode),
			Name:             cfg.Azure.SecretName,
			AccountName:      cfg.Azure.AccountName,
			Chain:            cfg.Azure.CredentialChain,
			TenantID:         cfg.Azure.TenantID,
			ClientID:         cfg.Azure.ClientID,
			ClientSecret:     cfg.Azure.ClientSecret,
			ConnectionString: cfg.Azure.ConnectionString,
			TransportOption:  cfg.Azure.TransportOption,
		},
	}, nil
}

// NewTableLister builds OneLake discovery. It is unavailable for local roots
// and when Azure auth is disabled.
func NewTableLister(cfg config.Config) (*onelake.Lister, error) {
	if cfg.Lakehouse.LocalRoot != "" {
		return nil, errors.New("table discovery is not available for a local lakehouse root")
	}
	if cfg.Azure.AuthMode == config.AzureAuthNone {
		return nil, errors.New("table discovery requires azure authentication")
	}
	onelakeCfg := onelake.Config{Endpoint: cfg.Lakehouse.BlobEndpoint}
	switch cfg.Azure.AuthMode {
	case config.AzureAuthServicePrincipal:
		onelakeCfg.TenantID = cfg.Azure.TenantID
		onelakeCfg.ClientID = cfg.Azure.ClientID
		onelakeCfg.ClientSecret = cfg.Azure.ClientSecret
	case config.AzureAuthConnectionString:
		onelakeCfg.ConnectionString = cfg.Azure.ConnectionString
	}
	return onelake.New(onelakeCfg)
}
