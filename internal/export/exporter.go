package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckmesh/lakequery/internal/query"
	"github.com/duckmesh/lakequery/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

type Exporter struct {
	Store  storage.ObjectStore
	Logger *slog.Logger
}

func NewExporter(store storage.ObjectStore, logger *slog.Logger) *Exporter {
	return &Exporter{Store: store, Logger: logger}
}

// Export uploads the result under key, adding a .parquet suffix when missing.
func (e *Exporter) Export(ctx context.Context, key string, result query.Result) (storage.ObjectInfo, error) {
	if e.Store == nil {
		return storage.ObjectInfo{}, fmt.Errorf("export store is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return storage.ObjectInfo{}, fmt.Errorf("export key is required")
	}
	if !strings.HasSuffix(key, ".parquet") {
		key += ".parquet"
	}

	data, err := EncodeParquet(result)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("encode result: %w", err)
	}
	info, err := e.Store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: parquetContentType})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload result %q: %w", key, err)
	}
	if e.Logger != nil {
		e.Logger.InfoContext(ctx, "exported query result",
			slog.String("key", info.Key),
			slog.Int("rows", result.RowCount()),
			slog.Int64("bytes", info.Size),
		)
	}
	return info, nil
}
