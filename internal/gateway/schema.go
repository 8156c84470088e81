package gateway

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/queryopt/engine/internal/model"
)

// The queries below are the Go equivalents of the information_schema/pg_catalog
// lookups the original schema inspector ran: base tables, their columns, their
// non-primary indexes, and pg_class.reltuples as the row estimate.

func listTables(ctx context.Context, conn *pgxpool.Conn, schema, table string) ([]string, error) {
	var rows pgx.Rows
	var err error
	if table != "" {
		rows, err = conn.Query(ctx, `
			SELECT table_name FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2 AND table_type = 'BASE TABLE'
			ORDER BY table_name`, schema, table)
	} else {
		rows, err = conn.Query(ctx, `
			SELECT table_name FROM information_schema.tables
			WHERE table_schema = $1 AND table_type = 'BASE TABLE'
			ORDER BY table_name`, schema)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func listColumns(ctx context.Context, conn *pgxpool.Conn, schema, table string) ([]model.ColumnDef, error) {
	rows, err := conn.Query(ctx, `
		SELECT column_name, data_type, (is_nullable = 'YES') AS nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ColumnDef
	for rows.Next() {
		var name, dataType string
		var nullable bool
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, err
		}
		out = append(out, model.ColumnDef{
			Name:     model.Ident(name),
			Kind:     classifyColumnKind(dataType),
			Nullable: nullable,
		})
	}
	return out, rows.Err()
}

func listIndexes(ctx context.Context, conn *pgxpool.Conn, schema, table string) ([]model.IndexDef, error) {
	rows, err := conn.Query(ctx, `
		SELECT i.relname AS name, ix.indisunique AS unique,
		       array_agg(a.attname ORDER BY k.i) AS columns
		FROM pg_class t
		JOIN pg_namespace ns ON ns.oid = t.relnamespace
		JOIN pg_index ix ON ix.indrelid = t.oid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_attribute a ON a.attrelid = t.oid
		JOIN generate_subscripts(ix.indkey, 1) k(i) ON a.attnum = ix.indkey[k.i]
		WHERE ns.nspname = $1 AND t.relname = $2 AND NOT ix.indisprimary
		GROUP BY i.relname, ix.indisunique
		ORDER BY i.relname`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.IndexDef
	for rows.Next() {
		var name string
		var unique bool
		var cols []string
		if err := rows.Scan(&name, &unique, &cols); err != nil {
			return nil, err
		}
		idents := make([]model.Ident, len(cols))
		for i, c := range cols {
			idents[i] = model.Ident(c)
		}
		out = append(out, model.IndexDef{Name: name, Columns: idents, Unique: unique})
	}
	return out, rows.Err()
}

func rowEstimate(ctx context.Context, conn *pgxpool.Conn, schema, table string) (int64, error) {
	var rows int64
	err := conn.QueryRow(ctx, `
		SELECT COALESCE(c.reltuples, 0)::bigint
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind = 'r'`, schema, table).Scan(&rows)
	if err != nil {
		return 0, err
	}
	return rows, nil
}

// classifyColumnKind maps a Postgres information_schema.data_type string to
// the coarse ColumnKind the index advisor's width estimate (§4.6 step 5)
// needs; anything not recognized falls back to KindOther.
func classifyColumnKind(dataType string) model.ColumnKind {
	switch dataType {
	case "integer", "smallint":
		return model.KindInteger
	case "bigint":
		return model.KindBigint
	case "timestamp without time zone", "timestamp with time zone", "date":
		return model.KindTimestamp
	case "boolean":
		return model.KindBoolean
	case "text", "character varying", "character", "uuid":
		return model.KindText
	case "numeric", "real", "double precision", "money":
		return model.KindNumeric
	default:
		return model.KindOther
	}
}
