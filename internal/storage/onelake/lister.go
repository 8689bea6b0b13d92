// Package onelake discovers lakehouse tables through the OneLake Blob endpoint.
package onelake

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

const DefaultEndpoint = "https://onelake.blob.fabric.microsoft.com"

type Config struct {
	Endpoint         string
	TenantID         string
	ClientID         string
	ClientSecret     string
	ConnectionString string
}

type prefixClient interface {
	ListPrefixes(ctx context.Context, containerName, prefix string) ([]string, error)
}

type Lister struct {
	client prefixClient
}

func New(cfg Config) (*Lister, error) {
	client, err := newBlobClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Lister{client: blobPrefixClient{client: client}}, nil
}

func newWithClient(client prefixClient) *Lister {
	return &Lister{client: client}
}

// ListTables returns the lowercase, sorted table names found under
// {layer}.Lakehouse/Tables/ in the workspace container.
func (l *Lister) ListTables(ctx context.Context, workspace, layer string) ([]string, error) {
	workspace = strings.TrimSpace(workspace)
	if workspace == "" {
		return nil, fmt.Errorf("workspace is required")
	}
	layer = strings.ToLower(strings.TrimSpace(layer))
	if layer == "" {
		return nil, fmt.Errorf("lakehouse layer is required")
	}

	prefix := layer + ".Lakehouse/Tables/"
	prefixes, err := l.client.ListPrefixes(ctx, workspace, prefix)
	if err != nil {
		return nil, fmt.Errorf("list tables in %s/%s: %w", workspace, prefix, err)
	}

	seen := make(map[string]struct{}, len(prefixes))
	tables := make([]string, 0, len(prefixes))
	for _, entry := range prefixes {
		name := strings.Trim(strings.TrimPrefix(entry, prefix), "/")
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		name = strings.ToLower(name)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		tables = append(tables, name)
	}
	sort.Strings(tables)
	return tables, nil
}

func newBlobClient(cfg Config) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("create blob client from connection string: %w", err)
		}
		return client, nil
	}

	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	credential, err := newCredential(cfg)
	if err != nil {
		return nil, err
	}
	client, err := azblob.NewClient(endpoint, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("create blob client for %q: %w", endpoint, err)
	}
	return client, nil
}

func newCredential(cfg Config) (azcore.TokenCredential, error) {
	if cfg.TenantID != "" && cfg.ClientID != "" && cfg.ClientSecret != "" {
		credential, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("create client secret credential: %w", err)
		}
		return credential, nil
	}
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("create default azure credential: %w", err)
	}
	return credential, nil
}

type blobPrefixClient struct {
	client *azblob.Client
}

func (c blobPrefixClient) ListPrefixes(ctx context.Context, containerName, prefix string) ([]string, error) {
	containerClient := c.client.ServiceClient().NewContainerClient(containerName)
	pager := containerClient.NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{Prefix: &prefix})

	prefixes := make([]string, 0)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		if page.Segment == nil {
			continue
		}
		for _, blobPrefix := range page.Segment.BlobPrefixes {
			if blobPrefix != nil && blobPrefix.Name != nil {
				prefixes = append(prefixes, *blobPrefix.Name)
			}
		}
	}
	return prefixes, nil
}
