// Package storage persists query execution history for the admin API.
package storage

import (
	"context"

	"github.com/skatterlabs/skatter/internal/query"
	"github.com/skatterlabs/skatter/pkg/wire"
)

// Execution is one finished query as recorded in history.
type Execution struct {
	ID        string      `json:"id"`
	Table     string      `json:"table"`
	Format    wire.Format `json:"format"`
	Cached    bool        `json:"cached"`
	Complete  bool        `json:"complete"`
	Stats     query.Stats `json:"stats"`
	CreatedAt int64       `json:"created_at"`
}

type Storage interface {
	SaveExecution(context.Context, Execution) error
	GetExecution(context.Context, string) (Execution, error)
	GetExecutions(context.Context, string, int) ([]Execution, error)
	Close() error
}
