package lakequeryctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/duckmesh/lakequery/internal/lakehouse"
	"github.com/duckmesh/lakequery/internal/query"
	"github.com/duckmesh/lakequery/internal/storage"
)

type LocalRunner interface {
	Run(ctx context.Context, request lakehouse.Request) (lakehouse.Outcome, error)
}

type TableLister interface {
	ListTables(ctx context.Context, workspace, layer string) ([]string, error)
}

type Options struct {
	BaseURL    string
	APIKey     string
	Workspace  string
	Layer      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer

	// OpenRunner builds the in-process engine for the run command. The
	// returned close func is called once the command finishes.
	OpenRunner func(ctx context.Context) (LocalRunner, func() error, error)
	OpenLister func(ctx context.Context) (TableLister, error)
	Paths      storage.PathBuilder
}

type commandEnv struct {
	opts    Options
	stdout  io.Writer
	stderr  io.Writer
	baseURL string
	apiKey  string
	client  *http.Client
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("lakequeryctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "lakequery API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}
	env := commandEnv{
		opts:    defaults,
		stdout:  stdout,
		stderr:  stderr,
		baseURL: strings.TrimRight(*baseURL, "/"),
		apiKey:  strings.TrimSpace(*apiKey),
		client:  client,
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	switch command {
	case "run":
		return env.runLocal(ctx, rest)
	case "paths":
		return env.printPaths(rest)
	case "tables":
		return env.listTables(ctx, rest)
	case "query":
		return env.remoteQuery(ctx, rest)
	case "health":
		return env.get(ctx, "/v1/health")
	case "ready":
		return env.get(ctx, "/v1/ready")
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

type tableFlags struct {
	workspace *string
	layer     *string
	tables    *string
}

func (e commandEnv) newTableFlags(name string, withTables bool) (*flag.FlagSet, tableFlags) {
	fs := flag.NewFlagSet("lakequeryctl "+name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	flags := tableFlags{
		workspace: fs.String("workspace", e.opts.Workspace, "workspace name"),
		layer:     fs.String("layer", e.opts.Layer, "lakehouse layer (e.g. landing)"),
	}
	if withTables {
		flags.tables = fs.String("tables", "", "comma separated table names")
	}
	return fs, flags
}

func (f tableFlags) tableList() []string {
	if f.tables == nil {
		return nil
	}
	return splitList(*f.tables)
}

func (e commandEnv) runLocal(ctx context.Context, args []string) int {
	fs, flags := e.newTableFlags("run", true)
	sqlText := fs.String("sql", "", "SQL to execute after the tables are registered")
	sqlFile := fs.String("sql-file", "", "read SQL from file")
	rowLimit := fs.Int("row-limit", 0, "maximum rows to return (0 = unlimited)")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	statement, err := readSQL(*sqlText, *sqlFile)
	if err != nil {
		_, _ = fmt.Fprintf(e.stderr, "%v\n", err)
		return 2
	}
	if e.opts.OpenRunner == nil {
		_, _ = fmt.Fprintln(e.stderr, "local engine is not configured")
		return 1
	}

	runner, closeRunner, err := e.opts.OpenRunner(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(e.stderr, "open engine: %v\n", err)
		return 1
	}
	if closeRunner != nil {
		defer func() { _ = closeRunner() }()
	}

	outcome, err := runner.Run(ctx, lakehouse.Request{
		Workspace: *flags.workspace,
		Layer:     *flags.layer,
		Tables:    flags.tableList(),
		SQL:       statement,
		RowLimit:  *rowLimit,
		OnTable: func(result lakehouse.TableResult) {
			if result.Registered() {
				_, _ = fmt.Fprintf(e.stderr, "registered %s (%d rows) from %s\n", result.Name, result.RowCount, result.Path)
				return
			}
			_, _ = fmt.Fprintf(e.stderr, "skipped %s: %v\n", result.Name, result.Err)
		},
	})
	if err != nil {
		if errors.Is(err, lakehouse.ErrWorkspaceRequired) {
			_, _ = fmt.Fprintf(e.stderr, "%v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(e.stderr, "query failed: %v\n", err)
		return 1
	}

	if *asJSON {
		payload := map[string]any{"columns": outcome.Result.Columns(), "rows": outcome.Result.Rows}
		encoded, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			_, _ = fmt.Fprintf(e.stderr, "encode result: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintln(e.stdout, string(encoded))
		return 0
	}
	if err := writeResult(e.stdout, outcome.Result); err != nil {
		_, _ = fmt.Fprintf(e.stderr, "write result: %v\n", err)
		return 1
	}
	return 0
}

func (e commandEnv) printPaths(args []string) int {
	fs, flags := e.newTableFlags("paths", true)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	runner := lakehouse.NewRunner(nil, e.opts.Paths, nil)
	results, err := runner.TablePaths(*flags.workspace, *flags.layer, flags.tableList())
	if err != nil {
		_, _ = fmt.Fprintf(e.stderr, "%v\n", err)
		return 2
	}
	exit := 0
	for _, result := range results {
		if result.Err != nil {
			_, _ = fmt.Fprintf(e.stderr, "%s: %v\n", result.Name, result.Err)
			exit = 1
			continue
		}
		_, _ = fmt.Fprintf(e.stdout, "%s\t%s\n", result.Name, result.Path)
	}
	return exit
}

func (e commandEnv) listTables(ctx context.Context, args []string) int {
	fs, flags := e.newTableFlags("tables", false)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if e.opts.OpenLister == nil {
		_, _ = fmt.Fprintln(e.stderr, "table discovery is not configured")
		return 1
	}
	lister, err := e.opts.OpenLister(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(e.stderr, "open table discovery: %v\n", err)
		return 1
	}
	tables, err := lister.ListTables(ctx, *flags.workspace, *flags.layer)
	if err != nil {
		_, _ = fmt.Fprintf(e.stderr, "list tables: %v\n", err)
		return 1
	}
	for _, table := range tables {
		_, _ = fmt.Fprintln(e.stdout, table)
	}
	return 0
}

func (e commandEnv) remoteQuery(ctx context.Context, args []string) int {
	fs, flags := e.newTableFlags("query", true)
	sqlText := fs.String("sql", "", "SQL to execute")
	sqlFile := fs.String("sql-file", "", "read SQL from file")
	rowLimit := fs.Int("row-limit", -1, "maximum rows to return (-1 = server default)")
	exportKey := fs.String("export-key", "", "object key to export the result to")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	statement, err := readSQL(*sqlText, *sqlFile)
	if err != nil {
		_, _ = fmt.Fprintf(e.stderr, "%v\n", err)
		return 2
	}

	body := map[string]any{
		"workspace":       *flags.workspace,
		"lakehouse_layer": *flags.layer,
		"table_names":     flags.tableList(),
		"sql":             statement,
	}
	if *rowLimit >= 0 {
		body["row_limit"] = *rowLimit
	}
	if strings.TrimSpace(*exportKey) != "" {
		body["export_key"] = strings.TrimSpace(*exportKey)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		_, _ = fmt.Fprintf(e.stderr, "encode request: %v\n", err)
		return 1
	}
	return e.do(ctx, http.MethodPost, "/v1/query", payload)
}

func (e commandEnv) get(ctx context.Context, path string) int {
	return e.do(ctx, http.MethodGet, path, nil)
}

func (e commandEnv) do(ctx context.Context, method, path string, payload []byte) int {
	code, responseBody, err := doRequest(ctx, e.client, method, e.baseURL+path, e.apiKey, payload)
	if err != nil {
		_, _ = fmt.Fprintf(e.stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		_, _ = fmt.Fprintf(e.stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(e.stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(e.stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func writeResult(w io.Writer, result query.Result) error {
	if err := result.Schema.Print(w); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(result.Columns(), "\t"))
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, value := range row {
			if value == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprint(value)
		}
		_, _ = fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%d rows, %s)\n", result.RowCount(), result.Duration.Round(time.Millisecond))
	return err
}

func readSQL(inline, file string) (string, error) {
	inline = strings.TrimSpace(inline)
	file = strings.TrimSpace(file)
	switch {
	case inline != "" && file != "":
		return "", errors.New("specify only one of -sql or -sql-file")
	case file != "":
		raw, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read sql file %q: %w", file, err)
		}
		inline = strings.TrimSpace(string(raw))
	}
	if inline == "" {
		return "", errors.New("-sql or -sql-file is required")
	}
	return inline, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: lakequeryctl [flags] <command> [command flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  run      register tables and run SQL in-process")
	_, _ = fmt.Fprintln(w, "  paths    print the storage path of each table")
	_, _ = fmt.Fprintln(w, "  tables   list the tables of a lakehouse layer")
	_, _ = fmt.Fprintln(w, "  query    POST /v1/query")
	_, _ = fmt.Fprintln(w, "  health   GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready    GET /v1/ready")
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
