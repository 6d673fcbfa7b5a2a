package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/store"
)

// Listener implements the record store's reactive subscription over
// LISTEN/NOTIFY. Each Watch call holds one dedicated connection.
type Listener struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewListener creates a change listener over the given pool.
func NewListener(pool *pgxpool.Pool, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{pool: pool, logger: logger}
}

// Watch pushes a change event per prescription write until ctx is
// cancelled. A notification payload that fails to decode is dropped
// with a log line; subscribers re-read documents on demand, so a lost
// event degrades to the next periodic sweep.
func (l *Listener) Watch(ctx context.Context) (<-chan store.ChangeEvent, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		conn.Release()
		return nil, err
	}

	ch := make(chan store.ChangeEvent, 64)
	go func() {
		defer close(ch)
		defer conn.Release()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					l.logger.Error("change listener stopped", zap.Error(err))
				}
				return
			}

			var ev store.ChangeEvent
			if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
				l.logger.Warn("undecodable change payload", zap.Error(err))
				continue
			}

			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
