package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

func TestScope_Validate(t *testing.T) {
	tests := []struct {
		name    string
		scope   Scope
		wantErr bool
	}{
		{"nurse", Scope{UserID: "u1", Role: "nurse"}, false},
		{"doctor", Scope{UserID: "u1", Role: "doctor"}, false},
		{"missing user", Scope{Role: "nurse"}, true},
		{"empty role", Scope{UserID: "u1"}, true},
		{"injection", Scope{UserID: "u1", Role: "nurse'; DROP TABLE patients"}, true},
		{"upper case", Scope{UserID: "u1", Role: "Nurse"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scope.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAccessScopeMiddleware_AnonymousPassesThrough(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	mw := AccessScopeMiddleware(nil, func(echo.Context) (Scope, bool) { return Scope{}, false })
	err := mw(func(c echo.Context) error {
		called = true
		if ConnFromContext(c.Request().Context()) != nil {
			t.Error("anonymous request must not carry a connection")
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected next handler to be called")
	}
}

func TestAccessScopeMiddleware_InvalidScope(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := AccessScopeMiddleware(nil, func(echo.Context) (Scope, bool) {
		return Scope{UserID: "u1", Role: "bad role"}, true
	})
	err := mw(func(c echo.Context) error {
		t.Fatal("handler should not be called")
		return nil
	})(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestWithAccessScope_InvalidScope(t *testing.T) {
	err := WithAccessScope(context.Background(), nil, Scope{}, func(context.Context) error {
		t.Fatal("fn should not be called")
		return nil
	})
	if err == nil {
		t.Error("expected error for empty scope")
	}
}

func TestConnFromContext_Nil(t *testing.T) {
	if ConnFromContext(context.Background()) != nil {
		t.Error("expected nil conn from empty context")
	}
	ctx := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestScopeFromContext(t *testing.T) {
	want := Scope{UserID: "u1", Role: "doctor"}
	ctx := context.WithValue(context.Background(), ScopeKey, want)
	got, ok := ScopeFromContext(ctx)
	if !ok || got != want {
		t.Errorf("expected %+v, got %+v (ok=%v)", want, got, ok)
	}
	if _, ok := ScopeFromContext(context.Background()); ok {
		t.Error("expected no scope in empty context")
	}
}

func TestTxFromContext(t *testing.T) {
	if TxFromContext(context.Background()) != nil {
		t.Error("expected nil tx from empty context")
	}
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if TxFromContext(ctx) != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if err == nil {
		t.Fatal("expected error when no connection in context")
	}
	if err.Error() != "no database connection in context" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}

func TestWithOwnConn_WithoutScopeRunsInline(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, nil)
	called := false
	err := WithOwnConn(ctx, func(inner context.Context) error {
		called = true
		if inner != ctx {
			t.Error("expected the caller's context to be passed through")
		}
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected fn to run, called=%v err=%v", called, err)
	}
}

// unreachablePool never hands out a connection: nothing listens on port 1.
func unreachablePool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig("postgres://u:p@127.0.0.1:1/mediclear?connect_timeout=1&sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	cfg.MaxConns = 1
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestWithOwnConn_FallsBackToPinnedConnSerially(t *testing.T) {
	prev := OwnConnWait
	OwnConnWait = 50 * time.Millisecond
	t.Cleanup(func() { OwnConnWait = prev })

	ctx := scopedContext(context.Background(), unreachablePool(t), nil, Scope{UserID: "u1", Role: "nurse"})

	var active, peak, runs int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithOwnConn(ctx, func(inner context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				atomic.AddInt32(&runs, 1)
				if s, ok := ScopeFromContext(inner); !ok || s.Role != "nurse" {
					t.Error("expected the caller's scope on the pinned connection")
				}
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("WithOwnConn did not return with no spare connection")
	}
	if runs != 4 {
		t.Errorf("expected 4 runs, got %d", runs)
	}
	if peak != 1 {
		t.Errorf("pinned connection shared by %d goroutines at once", peak)
	}
}

func TestWithOwnConn_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = scopedContext(ctx, unreachablePool(t), nil, Scope{UserID: "u1", Role: "nurse"})
	cancel()

	err := WithOwnConn(ctx, func(context.Context) error {
		t.Error("fn must not run after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
