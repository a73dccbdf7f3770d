package gtfsimport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to a GTFS import database. Imports are read-only here so the
// pool stays small.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// ResolveLatestImportDBName returns the db_name with the most recent imported_at
// from public.latest_successful_imports where db_name ILIKE '%city%'.
func ResolveLatestImportDBName(ctx context.Context, meta *sql.DB, city string) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return "", fmt.Errorf("city is required")
	}
	q := `
SELECT db_name
FROM public.latest_successful_imports
WHERE db_name ILIKE '%' || $1 || '%'
ORDER BY imported_at DESC
LIMIT 1`
	var dbName sql.NullString
	if err := meta.QueryRowContext(ctx, q, city).Scan(&dbName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("no database found for city like %q", city)
		}
		return "", err
	}
	if !dbName.Valid || dbName.String == "" {
		return "", fmt.Errorf("empty db_name for city like %q", city)
	}
	return dbName.String, nil
}

// Connect opens the import database for city on the cluster named by
// baseDSN. Without a city the base DSN is used as is. It returns the
// database name it settled on.
func Connect(ctx context.Context, baseDSN, city string) (*sql.DB, string, error) {
	finalDSN := baseDSN
	name := ""
	if strings.TrimSpace(city) != "" {
		// latest_successful_imports lives in the cluster's 'postgres' database.
		rootDSN, err := WithDBName(baseDSN, "postgres")
		if err != nil {
			return nil, "", fmt.Errorf("invalid base DSN: %w", err)
		}
		meta, err := Open(rootDSN)
		if err != nil {
			return nil, "", fmt.Errorf("open meta db: %w", err)
		}
		defer meta.Close()
		if err := Ping(ctx, meta); err != nil {
			return nil, "", fmt.Errorf("ping meta db: %w", err)
		}
		name, err = ResolveLatestImportDBName(ctx, meta, city)
		if err != nil {
			return nil, "", err
		}
		finalDSN, err = WithDBName(baseDSN, name)
		if err != nil {
			return nil, "", fmt.Errorf("compose DSN: %w", err)
		}
	}
	db, err := Open(finalDSN)
	if err != nil {
		return nil, "", fmt.Errorf("open import db: %w", err)
	}
	if err := Ping(ctx, db); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("ping import db: %w", err)
	}
	return db, name, nil
}
