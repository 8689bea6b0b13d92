package api

import (
	"net/http"
	"strings"

	"github.com/duckmesh/lakequery/internal/auth"
)

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Tables == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TABLES_NOT_CONFIGURED", "table discovery is not configured", false, nil)
		return
	}
	workspace := strings.TrimSpace(r.URL.Query().Get("workspace"))
	if workspace == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "WORKSPACE_REQUIRED", "workspace query parameter is required", false, nil)
		return
	}
	layer := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("lakehouse_layer")))
	if layer == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "LAKEHOUSE_LAYER_REQUIRED", "lakehouse_layer query parameter is required", false, nil)
		return
	}
	if err := auth.Authorize(r.Context(), workspace, auth.RoleTableReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	names, err := deps.Tables.ListTables(r.Context(), workspace, layer)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "TABLE_DISCOVERY_FAILED", "failed to list lakehouse tables", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]map[string]any, 0, len(names))
	for _, name := range names {
		item := map[string]any{"name": name}
		if path, err := deps.Paths.TablePath(workspace, layer, name); err == nil {
			item["path"] = path
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workspace":       workspace,
		"lakehouse_layer": layer,
		"tables":          items,
	})
}
