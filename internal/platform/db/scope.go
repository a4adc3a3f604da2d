package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	ScopeKey  contextKey = "access_scope"
	DBConnKey contextKey = "db_conn"
	DBTxKey   contextKey = "db_tx"
	DBPoolKey contextKey = "db_pool"
	connLock  contextKey = "db_conn_lock"
)

// OwnConnWait bounds how long WithOwnConn waits for a spare connection before
// sharing the caller's pinned one.
var OwnConnWait = 250 * time.Millisecond

// queryable is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Scope identifies the caller to the row-level security policies. The
// policies read it back through current_setting('app.user_id') and
// current_setting('app.role').
type Scope struct {
	UserID string
	Role   string
}

var rolePattern = regexp.MustCompile(`^[a-z_]+$`)

func (s Scope) Validate() error {
	if s.UserID == "" {
		return errors.New("access scope requires a user id")
	}
	if !rolePattern.MatchString(s.Role) {
		return fmt.Errorf("invalid access scope role %q", s.Role)
	}
	return nil
}

// ScopeResolver extracts the caller's scope from a request. It returns false
// for anonymous requests, which then run without a scoped connection.
type ScopeResolver func(c echo.Context) (Scope, bool)

// AccessScopeMiddleware pins one pooled connection to the request, tags it
// with the caller's scope and clears the tags before the connection goes back
// to the pool.
func AccessScopeMiddleware(pool *pgxpool.Pool, resolve ScopeResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			scope, ok := resolve(c)
			if !ok {
				return next(c)
			}
			if err := scope.Validate(); err != nil {
				return echo.NewHTTPError(http.StatusForbidden, err.Error())
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer releaseScoped(conn)

			if err := applyScope(ctx, conn, scope); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "access scope resolution failed")
			}

			c.SetRequest(c.Request().WithContext(scopedContext(ctx, pool, conn, scope)))

			return next(c)
		}
	}
}

// WithAccessScope runs fn with a connection tagged for scope. Used outside the
// HTTP stack, e.g. by CLI commands.
func WithAccessScope(ctx context.Context, pool *pgxpool.Pool, scope Scope, fn func(ctx context.Context) error) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer releaseScoped(conn)

	if err := applyScope(ctx, conn, scope); err != nil {
		return err
	}
	return fn(scopedContext(ctx, pool, conn, scope))
}

// scopedContext carries the scope, the pinned connection and the lock that
// serializes goroutines falling back to that connection.
func scopedContext(ctx context.Context, pool *pgxpool.Pool, conn *pgxpool.Conn, scope Scope) context.Context {
	ctx = context.WithValue(ctx, ScopeKey, scope)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	ctx = context.WithValue(ctx, DBPoolKey, pool)
	return context.WithValue(ctx, connLock, &sync.Mutex{})
}

// WithOwnConn runs fn on a connection of its own carrying the same scope as
// ctx. A pinned connection serves one query at a time, so goroutines that
// query in parallel for one request each go through here. Without a scope in
// ctx, fn runs unchanged and its queries go to the pool.
//
// Every request already holds one connection, so a saturated pool could
// otherwise leave all of them waiting on each other. When no connection frees
// up within OwnConnWait, fn runs on the caller's pinned connection, one
// goroutine at a time.
func WithOwnConn(ctx context.Context, fn func(ctx context.Context) error) error {
	scope, ok := ScopeFromContext(ctx)
	pool, _ := ctx.Value(DBPoolKey).(*pgxpool.Pool)
	if !ok || pool == nil {
		return fn(ctx)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, OwnConnWait)
	conn, err := pool.Acquire(acquireCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return withPinnedConn(ctx, fn)
	}
	defer releaseScoped(conn)

	if err := applyScope(ctx, conn, scope); err != nil {
		return err
	}
	return fn(scopedContext(context.WithValue(ctx, DBTxKey, nil), pool, conn, scope))
}

func withPinnedConn(ctx context.Context, fn func(ctx context.Context) error) error {
	mu, _ := ctx.Value(connLock).(*sync.Mutex)
	if mu == nil {
		return errors.New("no database connection available")
	}
	mu.Lock()
	defer mu.Unlock()
	return fn(ctx)
}

func applyScope(ctx context.Context, q queryable, scope Scope) error {
	_, err := q.Exec(ctx,
		"SELECT set_config('app.user_id', $1, false), set_config('app.role', $2, false)",
		scope.UserID, scope.Role,
	)
	if err != nil {
		return fmt.Errorf("apply access scope: %w", err)
	}
	return nil
}

// releaseScoped clears the scope settings and returns the connection. A
// connection that cannot be cleared is closed instead of being reused.
func releaseScoped(conn *pgxpool.Conn) {
	ctx := context.Background()
	_, err := conn.Exec(ctx, "SELECT set_config('app.user_id', '', false), set_config('app.role', '', false)")
	if err != nil {
		raw := conn.Hijack()
		_ = raw.Close(ctx)
		return
	}
	conn.Release()
}

// ConnFromContext retrieves the scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// ScopeFromContext retrieves the access scope from context.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ScopeKey).(Scope)
	return s, ok
}

// TxFromContext retrieves the active transaction from context, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the scoped connection and returns a context
// carrying it. The caller owns Commit/Rollback.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, errors.New("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}
