package persist

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendNone     = "none"
	BackendJournal  = "journal"
	BackendSQLite   = "sqlite"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Backends lists every backend name accepted by Open.
var Backends = []string{BackendNone, BackendJournal, BackendSQLite, BackendBolt, BackendPostgres}

// Options selects and configures a Gateway.
type Options struct {
	Backend     string
	DataDir     string
	Fsync       bool
	PostgresDSN string
	Logger      *slog.Logger
}

// UnknownBackendError is returned by Open for an unrecognised backend.
type UnknownBackendError struct{ Name string }

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown persistence backend %q (want one of %v)", e.Name, Backends)
}

// Open creates the Gateway named by opts.Backend. File-based backends
// live under opts.DataDir, which is created if missing.
func Open(ctx context.Context, opts Options) (Gateway, error) {
	switch opts.Backend {
	case BackendNone, "":
		return Nop{}, nil
	case BackendPostgres:
		pg, err := OpenPostgres(ctx, opts.PostgresDSN, opts.Logger)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case BackendJournal, BackendSQLite, BackendBolt:
	default:
		return nil, &UnknownBackendError{Name: opts.Backend}
	}

	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	var (
		gw  Gateway
		err error
	)
	switch opts.Backend {
	case BackendJournal:
		gw, err = OpenJournal(filepath.Join(opts.DataDir, "journal.dat"), opts.Fsync, opts.Logger)
	case BackendSQLite:
		gw, err = OpenSQLite(filepath.Join(opts.DataDir, "carestore.db"), 0, opts.Logger)
	default:
		gw, err = OpenBolt(filepath.Join(opts.DataDir, "carestore.bolt"), opts.Fsync, opts.Logger)
	}
	if err != nil {
		return nil, err
	}
	return gw, nil
}
