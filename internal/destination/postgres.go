package destination

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"etlpipe/internal/config"
	"etlpipe/internal/etlerr"
	"etlpipe/internal/schema"
	"etlpipe/pkg/records"
)

var writeModes = map[string]struct{}{
	"append": {}, "truncate": {}, "replace": {}, "historize": {},
}

// Postgres loads batches into a Postgres table via pgx, using COPY for bulk
// writes. Small batches go straight into the live table in one transaction;
// large batches are first copied into a staging table (committed on its own)
// and then promoted in a short transaction. The historize mode keeps full row
// history with SCD Type 2 semantics.
type Postgres struct {
	dsn         string
	schemaName  string
	table       string
	writeMode   string
	createTable bool
	threshold   int
	hist        *HistorizeConfig

	mu       sync.Mutex
	pool     *pgxpool.Pool
	strategy Strategy
	staging  string
	inferred schema.Schema
}

func newPostgres(o config.Options) (Destination, error) {
	table := o.String("table", o.String("table_name", ""))
	if table == "" {
		return nil, &etlerr.ConfigError{
			Component: "destination",
			Tag:       "postgres",
			Option:    "table",
			Reason:    "missing required option",
		}
	}
	dsn := o.String("dsn", "")
	if dsn == "" {
		return nil, &etlerr.ConfigError{
			Component: "destination",
			Tag:       "postgres",
			Option:    "dsn",
			Reason:    "missing required option",
		}
	}
	mode := strings.ToLower(o.String("write_mode", "append"))
	if _, ok := writeModes[mode]; !ok {
		return nil, &etlerr.ConfigError{
			Component: "destination",
			Tag:       "postgres",
			Option:    "write_mode",
			Reason:    fmt.Sprintf("invalid write_mode %q; must be append, truncate, replace, or historize", mode),
		}
	}
	hist, err := parseHistorizeConfig("postgres", o, mode)
	if err != nil {
		return nil, err
	}

	return &Postgres{
		dsn:         dsn,
		schemaName:  o.String("schema", "public"),
		table:       table,
		writeMode:   mode,
		createTable: o.Bool("create_table", true),
		threshold:   o.Int("staging_threshold", DefaultStagingThreshold),
		hist:        hist,
	}, nil
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) fqn() string { return pgIdent(p.schemaName) + "." + pgIdent(p.table) }

func (p *Postgres) liveTable() string { return p.schemaName + "." + p.table }

func (p *Postgres) ensurePool(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		return nil
	}
	pool, err := pgxpool.New(ctx, p.dsn)
	if err != nil {
		return fmt.Errorf("pgxpool: %w", err)
	}
	p.pool = pool
	return nil
}

// PreLoad infers the batch schema, picks the write strategy, and creates the
// live table when asked to. An empty batch is a no-op.
func (p *Postgres) PreLoad(ctx context.Context, batch records.Batch) error {
	if len(batch) == 0 {
		return nil
	}
	if err := p.ensurePool(ctx); err != nil {
		return &etlerr.LoadError{Table: p.liveTable(), Op: "connect", Err: err}
	}

	p.inferred = schema.Infer(batch)
	if p.writeMode == "historize" {
		p.strategy = StrategyStaging
	} else {
		p.strategy = ChooseStrategy(len(batch), p.threshold)
	}
	p.staging = fmt.Sprintf("%s_staging_%d", p.table, time.Now().UnixNano())

	if p.createTable {
		ddl := createTableSQL(p.fqn(), p.inferred, p.writeMode == "historize")
		if _, err := p.pool.Exec(ctx, ddl); err != nil {
			return &etlerr.LoadError{Table: p.liveTable(), Op: "create table", Err: pgDetail(err)}
		}
		if p.writeMode == "historize" {
			for _, idx := range historyIndexSQL(p.schemaName, p.table) {
				if _, err := p.pool.Exec(ctx, idx); err != nil {
					log.Printf("destination postgres: create index: %v", err)
				}
			}
		}
	}

	log.Printf("destination postgres: table=%s mode=%s strategy=%s rows=%d",
		p.liveTable(), p.writeMode, p.strategy, len(batch))
	return nil
}

// Load writes the batch. Direct and historized loads run inside one
// transaction. Staged loads commit the bulk COPY into the staging table
// first, outside any long-lived transaction, and promote in a second, short
// transaction; either way a failure leaves the live table exactly as it was,
// and a failed promotion leaves the staging table behind for inspection.
func (p *Postgres) Load(ctx context.Context, batch records.Batch) (*Result, error) {
	start := time.Now()
	res := &Result{
		Table:     p.liveTable(),
		Strategy:  p.strategy,
		WriteMode: p.writeMode,
	}
	if len(batch) == 0 {
		return res, nil
	}

	var loaded int64
	var merge *MergeStats
	var err error
	switch {
	case p.writeMode == "historize":
		loaded, merge, err = p.loadHistorizedTx(ctx, batch, start)
	case p.strategy == StrategyDirect:
		loaded, err = p.loadDirect(ctx, batch)
	default:
		loaded, err = p.loadStaged(ctx, batch)
	}
	if err != nil {
		return nil, err
	}

	res.RowsLoaded = loaded
	res.Merge = merge
	res.Duration = time.Since(start)
	return res, nil
}

// loadDirect truncates (for truncate/replace) and COPYs into the live table
// inside one transaction.
func (p *Postgres) loadDirect(ctx context.Context, batch records.Batch) (int64, error) {
	cols := p.inferred.Names()
	rows := batchRows(batch, cols)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, &etlerr.LoadError{Table: p.liveTable(), Op: "begin", Err: err}
	}
	if p.writeMode == "truncate" || p.writeMode == "replace" {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+p.fqn()); err != nil {
			_ = tx.Rollback(ctx)
			return 0, &etlerr.LoadError{Table: p.liveTable(), Op: "truncate", Err: pgDetail(err)}
		}
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{p.schemaName, p.table}, cols, pgx.CopyFromRows(rows))
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, &etlerr.LoadError{Table: p.liveTable(), Op: "copy", Err: pgDetail(err)}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, &etlerr.LoadError{Table: p.liveTable(), Op: "commit", Err: err}
	}
	return n, nil
}

// loadStaged COPYs into the staging table and commits that work before
// opening the short transaction that touches the live table.
func (p *Postgres) loadStaged(ctx context.Context, batch records.Batch) (int64, error) {
	cols := p.inferred.Names()
	stagingFQN := pgIdent(p.schemaName) + "." + pgIdent(p.staging)

	if _, err := p.pool.Exec(ctx, createTableSQL(stagingFQN, p.inferred, false)); err != nil {
		return 0, &etlerr.LoadError{Table: p.liveTable(), Op: "create staging", Err: pgDetail(err)}
	}
	n, err := p.pool.CopyFrom(ctx, pgx.Identifier{p.schemaName, p.staging}, cols,
		pgx.CopyFromRows(batchRows(batch, cols)))
	if err != nil {
		return 0, &etlerr.LoadError{Table: p.liveTable(), Op: "copy staging", Err: pgDetail(err)}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, &etlerr.LoadError{Table: p.liveTable(), Op: "begin", Err: err}
	}
	op, err := p.promote(ctx, tx, cols, stagingFQN)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, &etlerr.LoadError{Table: p.liveTable(), Op: op, Err: pgDetail(err)}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, &etlerr.LoadError{Table: p.liveTable(), Op: "commit", Err: err}
	}
	return n, nil
}

// promote moves staged rows into the live table: drop+rename for replace,
// truncate+copy for truncate, copy for append. Postgres DDL is transactional,
// so a rollback restores both tables.
func (p *Postgres) promote(ctx context.Context, tx pgx.Tx, cols []string, stagingFQN string) (string, error) {
	quoted := strings.Join(mapIdent(cols), ", ")
	switch p.writeMode {
	case "replace":
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+p.fqn()); err != nil {
			return "swap", err
		}
		rename := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", stagingFQN, pgIdent(p.table))
		if _, err := tx.Exec(ctx, rename); err != nil {
			return "swap", err
		}
	case "truncate", "append":
		if p.writeMode == "truncate" {
			if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+p.fqn()); err != nil {
				return "truncate", err
			}
		}
		insert := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			p.fqn(), quoted, quoted, stagingFQN)
		if _, err := tx.Exec(ctx, insert); err != nil {
			return "promote", err
		}
		if _, err := tx.Exec(ctx, "DROP TABLE "+stagingFQN); err != nil {
			return "drop staging", err
		}
	}
	return "", nil
}

// loadHistorizedTx wraps the historized merge in its own transaction; the
// staging table is temp-scoped and vanishes at commit.
func (p *Postgres) loadHistorizedTx(ctx context.Context, batch records.Batch, start time.Time) (int64, *MergeStats, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return 0, nil, &etlerr.LoadError{Table: p.liveTable(), Op: "acquire", Err: err}
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, nil, &etlerr.LoadError{Table: p.liveTable(), Op: "begin", Err: err}
	}
	loaded, merge, op, err := p.loadHistorized(ctx, tx, batch, start)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, nil, &etlerr.LoadError{Table: p.liveTable(), Op: op, Err: pgDetail(err)}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, nil, &etlerr.LoadError{Table: p.liveTable(), Op: "commit", Err: err}
	}
	return loaded, merge, nil
}

// loadHistorized copies the enriched batch into a temp staging table and
// merges it into the live table with SCD Type 2 semantics: reappeared rows
// are restored, changed rows superseded and re-inserted, vanished rows
// tombstoned. The temp table drops itself at commit.
func (p *Postgres) loadHistorized(ctx context.Context, tx pgx.Tx, batch records.Batch, now time.Time) (int64, *MergeStats, string, error) {
	loadBatchID := fmt.Sprintf("%s_%d", p.table, now.Unix())
	enriched := p.hist.enrich(batch, loadBatchID, now)

	cols := append(append([]string{}, p.inferred.Names()...), systemColumns...)
	stagingSchema := stagingColumns(p.inferred)

	create := fmt.Sprintf("CREATE TEMPORARY TABLE %s (%s) ON COMMIT DROP",
		pgIdent(p.staging), strings.Join(stagingSchema, ", "))
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, nil, "create staging", err
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{p.staging}, cols, pgx.CopyFromRows(batchRows(enriched, cols)))
	if err != nil {
		return 0, nil, "copy staging", err
	}

	target := p.fqn()
	stagingRef := pgIdent(p.staging)
	stats := &MergeStats{}

	steps := []struct {
		name string
		sql  string
		dst  *int64
		skip bool
	}{
		{"restore", restoreSQL(target, stagingRef), &stats.Restored, false},
		{"supersede", supersedeSQL(target, stagingRef), &stats.Superseded, false},
		{"insert", mergeInsertSQL(target, stagingRef, p.inferred.Names()), &stats.Inserted, false},
		{"delete", tombstoneSQL(target, stagingRef), &stats.Deleted, !p.hist.TrackDeletes},
	}
	for _, step := range steps {
		if step.skip {
			continue
		}
		tag, err := tx.Exec(ctx, step.sql, now)
		if err != nil {
			return 0, nil, "merge " + step.name, err
		}
		*step.dst = tag.RowsAffected()
	}

	log.Printf("destination postgres: merge table=%s restored=%d superseded=%d inserted=%d deleted=%d",
		p.liveTable(), stats.Restored, stats.Superseded, stats.Inserted, stats.Deleted)
	return n, stats, "", nil
}

// PostLoad drops a leftover staging table. The replace swap consumes it and
// historize staging is temp-scoped, so this usually does nothing; it exists
// so no staging table outlives a successful run.
func (p *Postgres) PostLoad(ctx context.Context, res *Result) error {
	if p.staging == "" || p.pool == nil {
		return nil
	}
	drop := fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", pgIdent(p.schemaName), pgIdent(p.staging))
	if _, err := p.pool.Exec(ctx, drop); err != nil {
		log.Printf("destination postgres: drop staging %s: %v", p.staging, err)
	}
	log.Printf("destination postgres: loaded table=%s rows=%d strategy=%s duration=%s",
		res.Table, res.RowsLoaded, res.Strategy, res.Duration.Round(time.Millisecond))
	return nil
}

func (p *Postgres) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
}

// batchRows orders every record's values by cols for COPY.
func batchRows(batch records.Batch, cols []string) [][]any {
	rows := make([][]any, 0, len(batch))
	for _, rec := range batch {
		row := make([]any, len(cols))
		for i, c := range cols {
			row[i] = rec[c]
		}
		rows = append(rows, row)
	}
	return rows
}

// pgType renders an inferred type as a Postgres column type.
func pgType(t schema.Type) string {
	switch t {
	case schema.Boolean:
		return "BOOLEAN"
	case schema.Integer:
		return "INTEGER"
	case schema.Double:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

// createTableSQL renders CREATE TABLE IF NOT EXISTS for an inferred schema,
// appending the historization system columns when asked.
func createTableSQL(fqn string, s schema.Schema, withSystem bool) string {
	defs := make([]string, 0, len(s)+len(systemColumns))
	for _, c := range s {
		defs = append(defs, pgIdent(c.Name)+" "+pgType(c.Type))
	}
	if withSystem {
		defs = append(defs,
			pgIdent(colRecordHash)+" TEXT NOT NULL",
			pgIdent(colIDHash)+" TEXT NOT NULL",
			pgIdent(colValidFrom)+" TIMESTAMP NOT NULL",
			pgIdent(colValidTo)+" TIMESTAMP DEFAULT NULL",
			pgIdent(colDeletedAt)+" TIMESTAMP DEFAULT NULL",
			pgIdent(colLoadedAt)+" TIMESTAMP DEFAULT NOW()",
			pgIdent(colPipelineRunID)+" TEXT",
			pgIdent(colSourceSystem)+" TEXT",
			pgIdent(colLoadBatchID)+" TEXT",
		)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", fqn, strings.Join(defs, ", "))
}

// stagingColumns renders the column definitions for a historize staging
// table: the inferred data columns plus nullable system columns.
func stagingColumns(s schema.Schema) []string {
	defs := make([]string, 0, len(s)+len(systemColumns))
	for _, c := range s {
		defs = append(defs, pgIdent(c.Name)+" "+pgType(c.Type))
	}
	for _, c := range systemColumns {
		typ := "TEXT"
		switch c {
		case colValidFrom, colValidTo, colDeletedAt, colLoadedAt:
			typ = "TIMESTAMP"
		}
		defs = append(defs, pgIdent(c)+" "+typ)
	}
	return defs
}

// historyIndexSQL renders the merge-supporting indexes for a historized
// table.
func historyIndexSQL(schemaName, table string) []string {
	fqn := pgIdent(schemaName) + "." + pgIdent(table)
	out := make([]string, 0, 4)
	for _, col := range []string{colIDHash, colRecordHash, colValidTo, colDeletedAt} {
		out = append(out, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			pgIdent(fmt.Sprintf("idx_%s%s", table, col)), fqn, pgIdent(col)))
	}
	return out
}

// restoreSQL clears the tombstone on current rows whose key reappears in
// staging. $1 is the merge timestamp.
func restoreSQL(target, staging string) string {
	return fmt.Sprintf(`UPDATE %s t
SET %s = NULL, %s = $1
WHERE t.%s IS NOT NULL
  AND t.%s IS NULL
  AND EXISTS (SELECT 1 FROM %s s WHERE s.%s = t.%s)`,
		target,
		pgIdent(colDeletedAt), pgIdent(colValidFrom),
		pgIdent(colDeletedAt),
		pgIdent(colValidTo),
		staging, pgIdent(colIDHash), pgIdent(colIDHash))
}

// supersedeSQL closes the validity window of current rows whose content hash
// changed. $1 is the merge timestamp.
func supersedeSQL(target, staging string) string {
	return fmt.Sprintf(`UPDATE %s t
SET %s = $1
WHERE t.%s IS NULL
  AND t.%s IS NULL
  AND EXISTS (SELECT 1 FROM %s s
    WHERE s.%s = t.%s AND s.%s <> t.%s)`,
		target,
		pgIdent(colValidTo),
		pgIdent(colValidTo),
		pgIdent(colDeletedAt),
		staging,
		pgIdent(colIDHash), pgIdent(colIDHash),
		pgIdent(colRecordHash), pgIdent(colRecordHash))
}

// mergeInsertSQL inserts new keys and new versions of changed rows. $1 is
// the merge timestamp.
func mergeInsertSQL(target, staging string, dataCols []string) string {
	quoted := strings.Join(mapIdent(dataCols), ", ")
	sysQuoted := strings.Join(mapIdent(systemColumns), ", ")
	return fmt.Sprintf(`INSERT INTO %s (%s, %s)
SELECT %s, s.%s, s.%s, $1, NULL, NULL, $1, s.%s, s.%s, s.%s
FROM %s s
WHERE NOT EXISTS (SELECT 1 FROM %s t
  WHERE t.%s = s.%s
    AND t.%s = s.%s
    AND t.%s IS NULL
    AND t.%s IS NULL)`,
		target, quoted, sysQuoted,
		quoted,
		pgIdent(colRecordHash), pgIdent(colIDHash),
		pgIdent(colPipelineRunID), pgIdent(colSourceSystem), pgIdent(colLoadBatchID),
		staging,
		target,
		pgIdent(colIDHash), pgIdent(colIDHash),
		pgIdent(colRecordHash), pgIdent(colRecordHash),
		pgIdent(colValidTo),
		pgIdent(colDeletedAt))
}

// tombstoneSQL marks current rows whose key vanished from staging. $1 is the
// merge timestamp.
func tombstoneSQL(target, staging string) string {
	return fmt.Sprintf(`UPDATE %s t
SET %s = $1
WHERE t.%s IS NULL
  AND t.%s IS NULL
  AND NOT EXISTS (SELECT 1 FROM %s s WHERE s.%s = t.%s)`,
		target,
		pgIdent(colDeletedAt),
		pgIdent(colValidTo),
		pgIdent(colDeletedAt),
		staging, pgIdent(colIDHash), pgIdent(colIDHash))
}

// pgDetail surfaces the Postgres error detail when present; pgx hides it
// behind the generic message otherwise.
func pgDetail(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%s: %s (%s)", pgErr.Message, pgErr.Detail, pgErr.SQLState())
	}
	return err
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// mapIdent maps a list of column names to their quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}
