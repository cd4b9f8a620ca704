package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
)

// NormalizeFuncName is the SQL routine both store drivers expose for
// normalizing search text.
const NormalizeFuncName = "normalize_search_query"

var (
	registerOnce sync.Once
	registerErr  error
)

// OpenSQLite opens (or creates) the SQLite database at path with foreign keys
// enabled and a single writer connection. normalize_search_query is available
// on every connection it hands out.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction(NormalizeFuncName, 1, normalizeSQLite)
	})
	if registerErr != nil {
		return nil, fmt.Errorf("registering %s: %w", NormalizeFuncName, registerErr)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	return conn, nil
}

// NormalizeSearchText lowercases s, trims it and collapses whitespace runs to
// a single space. It matches the Postgres function created by migrations.
func NormalizeSearchText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normalizeSQLite(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return "", nil
	case string:
		return NormalizeSearchText(v), nil
	case []byte:
		return NormalizeSearchText(string(v)), nil
	default:
		return nil, fmt.Errorf("%s: unsupported argument type %T", NormalizeFuncName, v)
	}
}
