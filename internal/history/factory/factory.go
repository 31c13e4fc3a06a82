package factory

import (
	"fmt"
	"io"

	"github.com/loykin/sidewatch/internal/config"
	"github.com/loykin/sidewatch/internal/history"
	"github.com/loykin/sidewatch/internal/history/clickhouse"
	"github.com/loykin/sidewatch/internal/history/postgres"
	"github.com/loykin/sidewatch/internal/history/sqlite"
)

// CloseableSink is what every concrete sink implements.
type CloseableSink interface {
	history.Sink
	io.Closer
}

// New builds a history sink from config. An empty type means no journal.
func New(hc config.HistoryConfig) (CloseableSink, error) {
	switch hc.Type {
	case "":
		return nil, nil
	case "sqlite":
		return sqlite.New(hc.Path)
	case "postgres":
		return postgres.New(hc.DSN)
	case "clickhouse":
		return clickhouse.New(hc.DSN, hc.Table)
	default:
		return nil, fmt.Errorf("unknown history sink type %q", hc.Type)
	}
}
