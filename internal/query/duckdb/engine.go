package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/lakequery/internal/query"
)

type SecretMode string

const (
	SecretCredentialChain  SecretMode = "credential_chain"
	SecretServicePrincipal SecretMode = "service_principal"
	SecretConnectionString SecretMode = "connection_string"
	SecretNone             SecretMode = "none"
)

type AzureSecret struct {
	Mode             SecretMode
	Name             string
	AccountName      string
	Chain            string
	TenantID         string
	ClientID         string
	ClientSecret     string
	ConnectionString string
	TransportOption  string
}

type Config struct {
	DatabasePath string
	Format       query.Format
	Extensions   []string
	Threads      int
	MemoryLimit  string
	Azure        AzureSecret
}

var extensionPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Session is a single-connection DuckDB database. Extensions, secrets and views
// are scoped to it.
type Session struct {
	db     *sql.DB
	format query.Format
}

func Open(ctx context.Context, cfg Config) (*Session, error) {
	db, err := sql.Open("duckdb", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)

	session := NewSession(db, cfg.Format)
	if err := session.Configure(ctx, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	return session, nil
}

func NewSession(db *sql.DB, format query.Format) *Session {
	if format == "" {
		format = query.FormatDelta
	}
	return &Session{db: db, format: format}
}

// Configure applies settings, extensions and the Azure secret in order.
func (s *Session) Configure(ctx context.Context, cfg Config) error {
	statements, err := setupStatements(cfg)
	if err != nil {
		return err
	}
	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement.sql); err != nil {
			return fmt.Errorf("%s: %w", statement.label, err)
		}
	}
	return nil
}

func (s *Session) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Session) Close() error {
	return s.db.Close()
}

func (s *Session) Load(ctx context.Context, path string) (query.Dataset, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return query.Dataset{}, fmt.Errorf("table path is required")
	}
	source := sourceExpression(s.format, path)

	var rowCount int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+source).Scan(&rowCount); err != nil {
		return query.Dataset{}, fmt.Errorf("read %s table %q: %w", s.format, path, err)
	}
	schema, err := s.describe(ctx, "SELECT * FROM "+source)
	if err != nil {
		return query.Dataset{}, fmt.Errorf("describe table %q: %w", path, err)
	}
	return query.Dataset{
		Path:     path,
		Source:   source,
		RowCount: rowCount,
		Schema:   schema,
	}, nil
}

// RegisterView replaces any existing view of the same name.
func (s *Session) RegisterView(ctx context.Context, dataset query.Dataset, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("view name is required")
	}
	if strings.TrimSpace(dataset.Source) == "" {
		return fmt.Errorf("dataset for view %q has no source", name)
	}
	viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM %s`, quoteIdent(name), dataset.Source)
	if _, err := s.db.ExecContext(ctx, viewSQL); err != nil {
		return fmt.Errorf("create view %q: %w", name, err)
	}
	return nil
}

func (s *Session) Query(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s\n) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = rows.Close() }()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}
	schema := make(query.Schema, 0, len(columnTypes))
	for _, columnType := range columnTypes {
		nullable, ok := columnType.Nullable()
		schema = append(schema, query.Column{
			Name:     columnType.Name(),
			Type:     columnType.DatabaseTypeName(),
			Nullable: nullable || !ok,
		})
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(schema))
		scanTargets := make([]any, len(schema))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return query.Result{
		Schema:   schema,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

func (s *Session) describe(ctx context.Context, selectSQL string) (query.Schema, error) {
	rows, err := s.db.QueryContext(ctx, "DESCRIBE "+selectSQL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	schema := make(query.Schema, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, err
		}
		described := map[string]string{}
		for i, value := range normalizeValues(values) {
			if value != nil {
				described[columns[i]] = fmt.Sprint(value)
			}
		}
		schema = append(schema, query.Column{
			Name:     described["column_name"],
			Type:     described["column_type"],
			Nullable: !strings.EqualFold(described["null"], "NO"),
		})
	}
	return schema, rows.Err()
}

type statement struct {
	label string
	sql   string
}

func setupStatements(cfg Config) ([]statement, error) {
	statements := make([]statement, 0)
	if cfg.Threads > 0 {
		statements = append(statements, statement{"set threads", fmt.Sprintf("SET threads = %d", cfg.Threads)})
	}
	if limit := strings.TrimSpace(cfg.MemoryLimit); limit != "" {
		statements = append(statements, statement{"set memory limit", "SET memory_limit = " + quoteLiteral(limit)})
	}
	for _, extension := range cfg.Extensions {
		extension = strings.ToLower(strings.TrimSpace(extension))
		if !extensionPattern.MatchString(extension) {
			return nil, fmt.Errorf("invalid extension name %q", extension)
		}
		statements = append(statements,
			statement{"install extension " + extension, "INSTALL " + extension},
			statement{"load extension " + extension, "LOAD " + extension},
		)
	}
	if option := strings.TrimSpace(cfg.Azure.TransportOption); option != "" {
		statements = append(statements, statement{"set azure transport", "SET azure_transport_option_type = " + quoteLiteral(option)})
	}
	secretSQL, err := azureSecretSQL(cfg.Azure)
	if err != nil {
		return nil, err
	}
	if secretSQL != "" {
		statements = append(statements, statement{"create azure secret", secretSQL})
	}
	return statements, nil
}

func azureSecretSQL(secret AzureSecret) (string, error) {
	name := strings.TrimSpace(secret.Name)
	if name == "" {
		name = "onelake"
	}
	account := strings.TrimSpace(secret.AccountName)
	if account == "" {
		account = "onelake"
	}

	var options []string
	switch secret.Mode {
	case "", SecretNone:
		return "", nil
	case SecretCredentialChain:
		options = []string{"TYPE AZURE", "PROVIDER CREDENTIAL_CHAIN"}
		if chain := strings.TrimSpace(secret.Chain); chain != "" {
			options = append(options, "CHAIN "+quoteLiteral(chain))
		}
		options = append(options, "ACCOUNT_NAME "+quoteLiteral(account))
	case SecretServicePrincipal:
		if secret.TenantID == "" || secret.ClientID == "" || secret.ClientSecret == "" {
			return "", fmt.Errorf("service principal secret requires tenant id, client id and client secret")
		}
		options = []string{
			"TYPE AZURE",
			"PROVIDER SERVICE_PRINCIPAL",
			"TENANT_ID " + quoteLiteral(secret.TenantID),
			"CLIENT_ID " + quoteLiteral(secret.ClientID),
			"CLIENT_SECRET " + quoteLiteral(secret.ClientSecret),
			"ACCOUNT_NAME " + quoteLiteral(account),
		}
	case SecretConnectionString:
		if secret.ConnectionString == "" {
			return "", fmt.Errorf("connection string secret requires a connection string")
		}
		options = []string{"TYPE AZURE", "CONNECTION_STRING " + quoteLiteral(secret.ConnectionString)}
	default:
		return "", fmt.Errorf("unsupported azure secret mode %q", secret.Mode)
	}
	return fmt.Sprintf("CREATE OR REPLACE SECRET %s (%s)", quoteIdent(name), strings.Join(options, ", ")), nil
}

func sourceExpression(format query.Format, path string) string {
	switch format {
	case query.FormatParquet:
		if !strings.HasSuffix(path, ".parquet") && !strings.Contains(path, "*") {
			path = strings.TrimRight(path, "/") + "/**/*.parquet"
		}
		return "read_parquet(" + quoteLiteral(path) + ")"
	default:
		return "delta_scan(" + quoteLiteral(path) + ")"
	}
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case float64:
			normalized[i] = finiteOrString(typed)
		case float32:
			normalized[i] = finiteOrString(float64(typed))
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

// finiteOrString keeps NaN and infinities representable in JSON.
func finiteOrString(value float64) any {
	switch {
	case math.IsNaN(value):
		return "NaN"
	case math.IsInf(value, 1):
		return "Infinity"
	case math.IsInf(value, -1):
		return "-Infinity"
	}
	return value
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteLiteral(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
