package onelake

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestListTablesNormalizesAndSorts(t *testing.T) {
	client := &fakePrefixClient{prefixes: []string{
		"landing.Lakehouse/Tables/Orders/",
		"landing.Lakehouse/Tables/customers/",
		"landing.Lakehouse/Tables/orders/",
		"landing.Lakehouse/Tables/",
	}}
	lister := newWithClient(client)

	tables, err := lister.ListTables(context.Background(), "ws", "Landing")
	if err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	if strings.Join(tables, ",") != "customers,orders" {
		t.Fatalf("tables = %v", tables)
	}
	if client.container != "ws" || client.prefix != "landing.Lakehouse/Tables/" {
		t.Fatalf("container=%q prefix=%q", client.container, client.prefix)
	}
}

func TestListTablesRequiresWorkspaceAndLayer(t *testing.T) {
	lister := newWithClient(&fakePrefixClient{})
	if _, err := lister.ListTables(context.Background(), " ", "landing"); err == nil {
		t.Fatal("expected workspace error")
	}
	if _, err := lister.ListTables(context.Background(), "ws", ""); err == nil {
		t.Fatal("expected layer error")
	}
}

func TestListTablesWrapsClientError(t *testing.T) {
	clientErr := errors.New("AuthorizationPermissionMismatch")
	lister := newWithClient(&fakePrefixClient{err: clientErr})

	_, err := lister.ListTables(context.Background(), "ws", "landing")
	if !errors.Is(err, clientErr) {
		t.Fatalf("ListTables() error = %v", err)
	}
}

type fakePrefixClient struct {
	prefixes  []string
	err       error
	container string
	prefix    string
}

func (f *fakePrefixClient) ListPrefixes(_ context.Context, containerName, prefix string) ([]string, error) {
	f.container, f.prefix = containerName, prefix
	if f.err != nil {
		return nil, f.err
	}
	return f.prefixes, nil
}
