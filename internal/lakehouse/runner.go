// Package lakehouse loads lakehouse tables into an engine session as views and
// runs SQL against them.
package lakehouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/duckmesh/lakequery/internal/observability"
	"github.com/duckmesh/lakequery/internal/query"
	"github.com/duckmesh/lakequery/internal/storage"
)

// ErrWorkspaceRequired is returned before the engine is touched when the
// workspace is empty.
var ErrWorkspaceRequired = errors.New("workspace is required")

// Session is the engine handle the runner drives. Views registered through it
// live as long as the session.
type Session interface {
	Load(ctx context.Context, path string) (query.Dataset, error)
	RegisterView(ctx context.Context, dataset query.Dataset, name string) error
	Query(ctx context.Context, request query.Request) (query.Result, error)
}

// Request names the tables to register and the SQL to run against them.
type Request struct {
	Workspace string
	Layer     string
	Tables    []string
	SQL       string
	RowLimit  int
	// OnTable, when set, is called after each table attempt in input order.
	OnTable func(TableResult)
}

// TableResult is the outcome of registering one table. Err is nil on success.
type TableResult struct {
	Name     string
	Path     string
	RowCount int64
	Schema   query.Schema
	Duration time.Duration
	Err      error
}

func (t TableResult) Registered() bool {
	return t.Err == nil
}

// Outcome carries every table result in input order plus the query result.
type Outcome struct {
	Workspace string
	Layer     string
	Tables    []TableResult
	Result    query.Result
}

func (o Outcome) Failed() []TableResult {
	failed := make([]TableResult, 0)
	for _, table := range o.Tables {
		if !table.Registered() {
			failed = append(failed, table)
		}
	}
	return failed
}

// Runner registers lakehouse tables into one session and runs SQL against it.
type Runner struct {
	session Session
	paths   storage.PathBuilder
	logger  *slog.Logger

	mu sync.Mutex
}

func NewRunner(session Session, paths storage.PathBuilder, logger *slog.Logger) *Runner {
	if paths == nil {
		paths = storage.OneLake{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{session: session, paths: paths, logger: logger}
}

// TablePaths resolves the storage path of every table without touching the engine.
func (r *Runner) TablePaths(workspace, layer string, tables []string) ([]TableResult, error) {
	if strings.TrimSpace(workspace) == "" {
		return nil, ErrWorkspaceRequired
	}
	layer = strings.ToLower(strings.TrimSpace(layer))
	results := make([]TableResult, 0, len(tables))
	for _, table := range tables {
		name := strings.ToLower(strings.TrimSpace(table))
		path, err := r.paths.TablePath(workspace, layer, name)
		results = append(results, TableResult{Name: name, Path: path, Err: err})
	}
	return results, nil
}

// Run registers every table it can as a view, then executes the SQL. Table
// failures are recorded in the outcome and never abort the batch. A failing SQL
// statement is returned wrapped, together with the table outcomes.
func (r *Runner) Run(ctx context.Context, request Request) (Outcome, error) {
	if r.session == nil {
		return Outcome{}, fmt.Errorf("engine session is required")
	}
	workspace := strings.TrimSpace(request.Workspace)
	if workspace == "" {
		return Outcome{}, ErrWorkspaceRequired
	}
	layer := strings.ToLower(strings.TrimSpace(request.Layer))

	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.InfoContext(ctx, "registering lakehouse tables",
		slog.String("workspace", workspace),
		slog.String("lakehouse_layer", layer),
		slog.Any("tables", request.Tables),
	)

	outcome := Outcome{
		Workspace: workspace,
		Layer:     layer,
		Tables:    make([]TableResult, 0, len(request.Tables)),
	}
	seen := make(map[string]struct{}, len(request.Tables))
	for _, table := range request.Tables {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		name := strings.ToLower(strings.TrimSpace(table))
		if _, dup := seen[name]; dup {
			r.logger.DebugContext(ctx, "table listed more than once; view will be replaced", slog.String("table", name))
		}
		seen[name] = struct{}{}

		result := r.registerTable(ctx, workspace, layer, name)
		outcome.Tables = append(outcome.Tables, result)
		if request.OnTable != nil {
			request.OnTable(result)
		}
	}

	start := time.Now()
	result, err := r.session.Query(ctx, query.Request{SQL: request.SQL, RowLimit: request.RowLimit})
	observability.ObserveQuery(err, result.RowCount(), time.Since(start))
	if err != nil {
		r.logger.ErrorContext(ctx, "query failed",
			slog.String("workspace", workspace),
			slog.String("lakehouse_layer", layer),
			slog.Int("failed_tables", len(outcome.Failed())),
			slog.Any("error", err),
		)
		return outcome, fmt.Errorf("execute query: %w", err)
	}
	outcome.Result = result

	r.logger.InfoContext(ctx, "query complete",
		slog.Int("rows", result.RowCount()),
		slog.String("duration", result.Duration.String()),
		slog.String("schema", result.Schema.String()),
	)
	return outcome, nil
}

func (r *Runner) registerTable(ctx context.Context, workspace, layer, name string) (result TableResult) {
	start := time.Now()
	result.Name = name
	defer func() {
		result.Duration = time.Since(start)
		observability.ObserveTableLoad(result.Err, result.RowCount, result.Duration)
	}()

	path, err := r.paths.TablePath(workspace, layer, name)
	if err != nil {
		result.Err = fmt.Errorf("build path for table %q: %w", name, err)
		r.logTableFailure(ctx, result)
		return result
	}
	result.Path = path

	dataset, err := r.session.Load(ctx, path)
	if err != nil {
		result.Err = fmt.Errorf("load table %q: %w", name, err)
		r.logTableFailure(ctx, result)
		return result
	}
	if err := r.session.RegisterView(ctx, dataset, name); err != nil {
		result.Err = fmt.Errorf("register view %q: %w", name, err)
		r.logTableFailure(ctx, result)
		return result
	}
	result.RowCount = dataset.RowCount
	result.Schema = dataset.Schema

	r.logger.InfoContext(ctx, "registered table",
		slog.String("table", name),
		slog.String("path", path),
		slog.Int64("rows", dataset.RowCount),
	)
	return result
}

func (r *Runner) logTableFailure(ctx context.Context, result TableResult) {
	r.logger.WarnContext(ctx, "could not register table",
		slog.String("table", result.Name),
		slog.String("path", result.Path),
		slog.Any("error", result.Err),
	)
}
