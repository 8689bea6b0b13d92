package duckdb

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/duckmesh/lakequery/internal/query"
)

const ordersPath = "abfss://ws@onelake.dfs.fabric.microsoft.com/landing.Lakehouse/Tables/orders"

func TestConfigureRunsSetupInOrder(t *testing.T) {
	session, mock := newMockSession(t, query.FormatDelta)

	mock.ExpectExec(regexp.QuoteMeta("SET threads = 4")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSTALL delta")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("LOAD delta")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSTALL azure")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("LOAD azure")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE OR REPLACE SECRET "onelake" (TYPE AZURE, PROVIDER CREDENTIAL_CHAIN, CHAIN 'cli', ACCOUNT_NAME 'onelake')`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := session.Configure(context.Background(), Config{
		Threads:    4,
		Extensions: []string{"delta", "Azure"},
		Azure:      AzureSecret{Mode: SecretCredentialChain, Chain: "cli"},
	})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestConfigureStopsOnExtensionFailure(t *testing.T) {
	session, mock := newMockSession(t, query.FormatDelta)
	mock.ExpectExec(regexp.QuoteMeta("INSTALL delta")).WillReturnError(errors.New("no network"))

	err := session.Configure(context.Background(), Config{Extensions: []string{"delta"}})
	if err == nil || !strings.Contains(err.Error(), "install extension delta") {
		t.Fatalf("Configure() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestSetupStatementsRejectsBadExtension(t *testing.T) {
	if _, err := setupStatements(Config{Extensions: []string{"delta; DROP TABLE x"}}); err == nil {
		t.Fatal("expected invalid extension error")
	}
}

func TestAzureSecretSQL(t *testing.T) {
	tests := []struct {
		name   string
		secret AzureSecret
		want   string
	}{
		{name: "none", secret: AzureSecret{Mode: SecretNone}, want: ""},
		{
			name:   "service principal",
			secret: AzureSecret{Mode: SecretServicePrincipal, Name: "lake", TenantID: "t", ClientID: "c", ClientSecret: "s'x"},
			want:   `CREATE OR REPLACE SECRET "lake" (TYPE AZURE, PROVIDER SERVICE_PRINCIPAL, TENANT_ID 't', CLIENT_ID 'c', CLIENT_SECRET 's''x', ACCOUNT_NAME 'onelake')`,
		},
		{
			name:   "connection string",
			secret: AzureSecret{Mode: SecretConnectionString, ConnectionString: "AccountName=a"},
			want:   `CREATE OR REPLACE SECRET "onelake" (TYPE AZURE, CONNECTION_STRING 'AccountName=a')`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := azureSecretSQL(tt.secret)
			if err != nil {
				t.Fatalf("azureSecretSQL() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("azureSecretSQL() = %q, want %q", got, tt.want)
			}
		})
	}
	if _, err := azureSecretSQL(AzureSecret{Mode: SecretServicePrincipal}); err == nil {
		t.Fatal("expected missing service principal fields error")
	}
	if _, err := azureSecretSQL(AzureSecret{Mode: "password"}); err == nil {
		t.Fatal("expected unsupported mode error")
	}
}

func TestLoadDeltaTableCountsAndDescribes(t *testing.T) {
	session, mock := newMockSession(t, query.FormatDelta)
	source := "delta_scan('" + ordersPath + "')"

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM " + source)).
		WillReturnRows(sqlmock.NewRows([]string{"count_star()"}).AddRow(int64(42)))
	mock.ExpectQuery(regexp.QuoteMeta("DESCRIBE SELECT * FROM " + source)).
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "column_type", "null", "key", "default", "extra"}).
			AddRow("customer_id", "BIGINT", "NO", nil, nil, nil).
			AddRow("created_at", "TIMESTAMP", "YES", nil, nil, nil))

	dataset, err := session.Load(context.Background(), ordersPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if dataset.RowCount != 42 {
		t.Fatalf("RowCount = %d", dataset.RowCount)
	}
	if dataset.Source != source {
		t.Fatalf("Source = %q", dataset.Source)
	}
	want := query.Schema{
		{Name: "customer_id", Type: "BIGINT", Nullable: false},
		{Name: "created_at", Type: "TIMESTAMP", Nullable: true},
	}
	if len(dataset.Schema) != len(want) || dataset.Schema[0] != want[0] || dataset.Schema[1] != want[1] {
		t.Fatalf("Schema = %+v", dataset.Schema)
	}
	assertSQLMock(t, mock)
}

func TestLoadReturnsReadError(t *testing.T) {
	session, mock := newMockSession(t, query.FormatDelta)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM delta_scan(")).WillReturnError(errors.New("IO Error: 403"))

	_, err := session.Load(context.Background(), ordersPath)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("Load() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestRegisterViewQuotesName(t *testing.T) {
	session, mock := newMockSession(t, query.FormatDelta)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE OR REPLACE VIEW "order""s" AS SELECT * FROM delta_scan('p')`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := session.RegisterView(context.Background(), query.Dataset{Source: "delta_scan('p')"}, `order"s`); err != nil {
		t.Fatalf("RegisterView() error = %v", err)
	}
	if err := session.RegisterView(context.Background(), query.Dataset{}, "x"); err == nil {
		t.Fatal("expected missing source error")
	}
	assertSQLMock(t, mock)
}

func TestQueryReturnsEngineErrorUnwrapped(t *testing.T) {
	session, mock := newMockSession(t, query.FormatDelta)
	engineErr := errors.New("Catalog Error: Table with name orders does not exist")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM orders")).WillReturnError(engineErr)

	_, err := session.Query(context.Background(), query.Request{SQL: "SELECT * FROM orders;"})
	if !errors.Is(err, engineErr) {
		t.Fatalf("Query() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestQueryRejectsEmptySQL(t *testing.T) {
	session, _ := newMockSession(t, query.FormatDelta)
	if _, err := session.Query(context.Background(), query.Request{SQL: " ; "}); err == nil {
		t.Fatal("expected sql required error")
	}
}

func TestSourceExpression(t *testing.T) {
	tests := []struct {
		format query.Format
		path   string
		want   string
	}{
		{query.FormatDelta, "abfss://a@b/c", "delta_scan('abfss://a@b/c')"},
		{query.FormatParquet, "/lake/t/", "read_parquet('/lake/t/**/*.parquet')"},
		{query.FormatParquet, "/lake/t/x.parquet", "read_parquet('/lake/t/x.parquet')"},
		{query.FormatDelta, "/it's", "delta_scan('/it''s')"},
	}
	for _, tt := range tests {
		if got := sourceExpression(tt.format, tt.path); got != tt.want {
			t.Fatalf("sourceExpression(%q, %q) = %q, want %q", tt.format, tt.path, got, tt.want)
		}
	}
}

func newMockSession(t *testing.T, format query.Format) (*Session, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSession(db, format), mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestQueryRowLimitSurvivesTrailingLineComment(t *testing.T) {
	session, mock := newMockSession(t, query.FormatDelta)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM (SELECT 1 AS x -- trailing note\n) AS q LIMIT 10")).
		WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(int64(1)))

	result, err := session.Query(context.Background(), query.Request{SQL: "SELECT 1 AS x -- trailing note", RowLimit: 10})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.RowCount() != 1 {
		t.Fatalf("rows = %d", result.RowCount())
	}
	assertSQLMock(t, mock)
}

func TestNormalizeValuesReplacesNonFiniteFloats(t *testing.T) {
	got := normalizeValues([]any{math.NaN(), math.Inf(1), float32(math.Inf(-1)), 1.5, []byte("x"), nil})
	want := []any{"NaN", "Infinity", "-Infinity", 1.5, "x", nil}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("normalizeValues()[%d] = %#v, want %#v", i, got[i], want[i])
		}
	}
}
