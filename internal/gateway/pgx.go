package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/queryopt/engine/internal/model"
)

// pgxGateway is the production Gateway, backed by a pgx connection pool.
// Grounded on the teacher's single-connection runner.Run, generalized to a
// pool so concurrent advisors and what-if trials (§5) don't serialize on one
// connection.
type pgxGateway struct {
	pool *pgxpool.Pool
	log  *logrus.Entry // may be nil; every use is guarded

	hypopgOnce      sync.Once
	hypopgAvailable bool
}

// New connects to dsn and returns a Gateway. The pool is sized by the
// caller's config (parallelism plus headroom for Explain/FetchSchema
// traffic outside what-if trials). log receives every soft failure this
// gateway degrades rather than propagates (connection/query errors that
// downstream treats as missing data, the hypopg capability probe result);
// it may be nil, in which case these failures are simply not reported.
func New(ctx context.Context, dsn string, maxConns int32, log *logrus.Entry) (Gateway, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &Error{Kind: KindSyntax, Op: "connect", Err: err}
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: "connect", Err: err}
	}
	return &pgxGateway{pool: pool, log: log}, nil
}

func (g *pgxGateway) Close() {
	g.pool.Close()
}

func (g *pgxGateway) Explain(ctx context.Context, sql string, analyze bool, timeout time.Duration) (*model.PlanTree, error) {
	opts := []string{"FORMAT JSON"}
	if analyze {
		opts = append(opts, "ANALYZE", "BUFFERS", "TIMING")
	}
	explainSQL := fmt.Sprintf("EXPLAIN (%s) %s", strings.Join(opts, ", "), sql)
	return g.runExplain(ctx, explainSQL, timeout)
}

func (g *pgxGateway) ExplainCosts(ctx context.Context, sql string, timeout time.Duration) (*model.PlanTree, error) {
	explainSQL := fmt.Sprintf("EXPLAIN (FORMAT JSON, COSTS ON, TIMING OFF) %s", sql)
	return g.runExplain(ctx, explainSQL, timeout)
}

func (g *pgxGateway) runExplain(ctx context.Context, explainSQL string, timeout time.Duration) (*model.PlanTree, error) {
	ctx, cancel := withDeadline(ctx, timeout)
	defer cancel()

	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return nil, g.classifyConnErr("explain", err)
	}
	defer conn.Release()

	if err := setStatementTimeout(ctx, conn, timeout); err != nil {
		return nil, err
	}

	var payload []byte
	if err := conn.QueryRow(ctx, explainSQL).Scan(&payload); err != nil {
		return nil, g.classifyQueryErr("explain", err)
	}

	tree, err := decodePlanJSON(payload)
	if err != nil {
		return nil, &Error{Kind: KindSyntax, Op: "explain", Err: err}
	}
	return tree, nil
}

func (g *pgxGateway) FetchSchema(ctx context.Context, filter SchemaFilter, timeout time.Duration) (*model.SchemaSnapshot, error) {
	ctx, cancel := withDeadline(ctx, timeout)
	defer cancel()

	schema := filter.Schema
	if schema == "" {
		schema = "public"
	}

	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return nil, g.classifyConnErr("fetch_schema", err)
	}
	defer conn.Release()

	if err := setStatementTimeout(ctx, conn, timeout); err != nil {
		return nil, err
	}

	tables, err := listTables(ctx, conn, schema, filter.Table)
	if err != nil {
		return nil, g.classifyQueryErr("fetch_schema", err)
	}

	snapshot := &model.SchemaSnapshot{
		Tables:      map[model.Ident]model.TableSchema{},
		RowEstimate: map[model.Ident]int64{},
	}
	for _, t := range tables {
		cols, err := listColumns(ctx, conn, schema, t)
		if err != nil {
			return nil, g.classifyQueryErr("fetch_schema", err)
		}
		idxs, err := listIndexes(ctx, conn, schema, t)
		if err != nil {
			return nil, g.classifyQueryErr("fetch_schema", err)
		}
		rows, err := rowEstimate(ctx, conn, schema, t)
		if err != nil {
			return nil, g.classifyQueryErr("fetch_schema", err)
		}
		ident := model.Ident(t)
		snapshot.Tables[ident] = model.TableSchema{Columns: cols, Indexes: idxs}
		snapshot.RowEstimate[ident] = rows
	}
	return snapshot, nil
}

func (g *pgxGateway) WithHypotheticalIndex(ctx context.Context, relation string, columns []string, sql string, timeout time.Duration) (*model.PlanTree, time.Duration, error) {
	if !g.probeHypopg(ctx) {
		return nil, 0, &Error{Kind: KindUnavailable, Op: "with_hypothetical_index", Err: ErrUnavailable}
	}

	ctx, cancel := withDeadline(ctx, timeout)
	defer cancel()

	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return nil, 0, g.classifyConnErr("with_hypothetical_index", err)
	}
	defer conn.Release()

	if err := setStatementTimeout(ctx, conn, timeout); err != nil {
		return nil, 0, err
	}

	reset := func() {
		_, _ = conn.Exec(ctx, "SELECT hypopg_reset()")
	}
	reset()
	defer reset()

	ddl := fmt.Sprintf("CREATE INDEX ON %s (%s)", relation, strings.Join(columns, ", "))
	if _, err := conn.Exec(ctx, "SELECT * FROM hypopg_create_index($1)", ddl); err != nil {
		return nil, 0, g.classifyQueryErr("with_hypothetical_index", err)
	}

	start := time.Now()
	explainSQL := fmt.Sprintf("EXPLAIN (FORMAT JSON, COSTS ON, TIMING OFF) %s", sql)
	var payload []byte
	if err := conn.QueryRow(ctx, explainSQL).Scan(&payload); err != nil {
		return nil, 0, g.classifyQueryErr("with_hypothetical_index", err)
	}
	elapsed := time.Since(start)

	tree, err := decodePlanJSON(payload)
	if err != nil {
		return nil, 0, &Error{Kind: KindSyntax, Op: "with_hypothetical_index", Err: err}
	}
	return tree, elapsed, nil
}

// probeHypopg checks once per gateway lifetime whether the extension is
// installed; every call after the first returns the cached result (§4.1:
// "reported once via a capability probe").
func (g *pgxGateway) probeHypopg(ctx context.Context) bool {
	g.hypopgOnce.Do(func() {
		probeCtx, cancel := withDeadline(ctx, 2*time.Second)
		defer cancel()
		var name string
		err := g.pool.QueryRow(probeCtx, "SELECT extname FROM pg_extension WHERE extname = 'hypopg'").Scan(&name)
		g.hypopgAvailable = err == nil && name == "hypopg"
		if g.log != nil {
			g.log.WithField("available", g.hypopgAvailable).Info("hypopg capability probe")
		}
	})
	return g.hypopgAvailable
}

func withDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func setStatementTimeout(ctx context.Context, conn *pgxpool.Conn, timeout time.Duration) error {
	ms := int64(timeout / time.Millisecond)
	if ms <= 0 {
		return nil
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", ms)); err != nil {
		return &Error{Kind: KindTransport, Op: "set_statement_timeout", Err: err}
	}
	return nil
}

func (g *pgxGateway) classifyConnErr(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindTransport
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	if g.log != nil {
		g.log.WithFields(logrus.Fields{"op": op, "kind": kind}).WithError(err).Warn("gateway connection failure")
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// classifyQueryErr distinguishes a bad statement from an unreachable or slow
// server: PostgreSQL's 42xxx error class means the SQL itself is bad, not
// the connection.
func (g *pgxGateway) classifyQueryErr(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindTransport
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	} else {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "42") {
			kind = KindSyntax
		}
	}
	if g.log != nil {
		g.log.WithFields(logrus.Fields{"op": op, "kind": kind}).WithError(err).Warn("gateway query failure")
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
