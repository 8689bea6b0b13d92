package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/duckmesh/lakequery/internal/auth"
	"github.com/duckmesh/lakequery/internal/config"
	"github.com/duckmesh/lakequery/internal/lakehouse"
	"github.com/duckmesh/lakequery/internal/query"
)

type queryRequest struct {
	Workspace      string   `json:"workspace"`
	LakehouseLayer string   `json:"lakehouse_layer"`
	TableNames     []string `json:"table_names"`
	SQL            string   `json:"sql"`
	RowLimit       *int     `json:"row_limit"`
	ExportKey      string   `json:"export_key"`
}

type tableOutcome struct {
	Name       string       `json:"name"`
	Path       string       `json:"path"`
	Registered bool         `json:"registered"`
	RowCount   int64        `json:"row_count"`
	Columns    query.Schema `json:"columns,omitempty"`
	DurationMs int64        `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
}

type exportInfo struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
	ETag      string `json:"etag,omitempty"`
}

type queryResponse struct {
	Workspace      string         `json:"workspace"`
	LakehouseLayer string         `json:"lakehouse_layer"`
	Columns        []string       `json:"columns"`
	Schema         query.Schema   `json:"schema"`
	Rows           [][]any        `json:"rows"`
	Tables         []tableOutcome `json:"tables"`
	Stats          map[string]any `json:"stats"`
	Export         *exportInfo    `json:"export,omitempty"`
}

func handleQuery(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Runner == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query runner is not configured", false, nil)
		return
	}

	var request queryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}

	workspace := strings.TrimSpace(request.Workspace)
	if workspace == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "WORKSPACE_REQUIRED", "workspace is required", false, nil)
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	rowLimit := cfg.Lakehouse.DefaultRowLimit
	if request.RowLimit != nil {
		if *request.RowLimit < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ROW_LIMIT", "row_limit must be >= 0", false, nil)
			return
		}
		rowLimit = *request.RowLimit
	}
	exportKey := strings.TrimSpace(request.ExportKey)
	if exportKey != "" && deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "result export is not configured", false, nil)
		return
	}
	if err := auth.Authorize(r.Context(), workspace, auth.RoleQueryRunner); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	outcome, err := deps.Runner.Run(r.Context(), lakehouse.Request{
		Workspace: workspace,
		Layer:     request.LakehouseLayer,
		Tables:    request.TableNames,
		SQL:       request.SQL,
		RowLimit:  rowLimit,
	})
	tables := tableOutcomes(outcome.Tables)
	if err != nil {
		switch {
		case errors.Is(err, lakehouse.ErrWorkspaceRequired):
			writeError(r.Context(), w, http.StatusBadRequest, "WORKSPACE_REQUIRED", err.Error(), false, nil)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeError(r.Context(), w, http.StatusGatewayTimeout, "QUERY_CANCELLED", "query was cancelled before completion", true, map[string]any{"tables": tables})
		default:
			writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, map[string]any{
				"details": err.Error(),
				"tables":  tables,
			})
		}
		return
	}

	response := queryResponse{
		Workspace:      outcome.Workspace,
		LakehouseLayer: outcome.Layer,
		Columns:        outcome.Result.Columns(),
		Schema:         outcome.Result.Schema,
		Rows:           outcome.Result.Rows,
		Tables:         tables,
		Stats: map[string]any{
			"duration_ms":   outcome.Result.Duration.Milliseconds(),
			"row_count":     outcome.Result.RowCount(),
			"failed_tables": len(outcome.Failed()),
		},
	}
	if response.Rows == nil {
		response.Rows = [][]any{}
	}

	if exportKey != "" {
		info, err := deps.Exporter.Export(r.Context(), exportKey, outcome.Result)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_FAILED", "result export failed", true, map[string]any{"details": err.Error()})
			return
		}
		response.Export = &exportInfo{Key: info.Key, SizeBytes: info.Size, ETag: info.ETag}
	}

	writeJSON(w, http.StatusOK, response)
}

func tableOutcomes(results []lakehouse.TableResult) []tableOutcome {
	out := make([]tableOutcome, 0, len(results))
	for _, result := range results {
		item := tableOutcome{
			Name:       result.Name,
			Path:       result.Path,
			Registered: result.Registered(),
			RowCount:   result.RowCount,
			Columns:    result.Schema,
			DurationMs: result.Duration.Milliseconds(),
		}
		if result.Err != nil {
			item.Error = result.Err.Error()
		}
		out = append(out, item)
	}
	return out
}
