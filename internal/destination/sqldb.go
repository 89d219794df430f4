package destination

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"etlpipe/internal/config"
	"etlpipe/internal/etlerr"
	"etlpipe/internal/schema"
	"etlpipe/pkg/records"
)

// dialect captures the per-engine differences the generic database/sql
// writer has to care about.
type dialect struct {
	name        string
	driver      string
	quote       func(string) string
	placeholder func(n int) string // 1-based argument position
	typeFor     func(schema.Type) string
	// truncate clears the live table. Must be rollback-safe on this engine.
	truncate func(table string) string
	// swap replaces the live table with the staging table. Statements run in
	// order; each must either be transactional or leave the live table intact
	// when a later statement fails. retired is a free name the dialect may
	// park the old live table under (dropped in PostLoad).
	swap func(live, staging, retired string) []string
	// createIfNotExists renders idempotent table creation; T-SQL has no
	// CREATE TABLE IF NOT EXISTS.
	createIfNotExists func(table, quoted, defs string) string
}

func ansiCreate(_ string, quoted, defs string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoted, defs)
}

func quoteBacktick(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }
func quoteBracket(id string) string  { return "[" + strings.ReplaceAll(id, "]", "]]") + "]" }

var sqliteDialect = dialect{
	name:        "sqlite",
	driver:      "sqlite",
	quote:       pgIdent,
	placeholder: func(int) string { return "?" },
	typeFor: func(t schema.Type) string {
		switch t {
		case schema.Boolean, schema.Integer:
			return "INTEGER"
		case schema.Double:
			return "REAL"
		default:
			return "TEXT"
		}
	},
	truncate: func(table string) string { return "DELETE FROM " + table },
	swap: func(live, staging, _ string) []string {
		// sqlite DDL is transactional; drop-then-rename rolls back as a unit.
		return []string{
			"DROP TABLE IF EXISTS " + pgIdent(live),
			fmt.Sprintf("ALTER TABLE %s RENAME TO %s", pgIdent(staging), pgIdent(live)),
		}
	},
	createIfNotExists: ansiCreate,
}

var mysqlDialect = dialect{
	name:        "mysql",
	driver:      "mysql",
	quote:       quoteBacktick,
	placeholder: func(int) string { return "?" },
	typeFor: func(t schema.Type) string {
		switch t {
		case schema.Boolean:
			return "BOOLEAN"
		case schema.Integer:
			return "BIGINT"
		case schema.Double:
			return "DOUBLE"
		default:
			return "TEXT"
		}
	},
	// TRUNCATE TABLE implicitly commits in MySQL and cannot be rolled back;
	// DELETE keeps the clear inside the transaction.
	truncate: func(table string) string { return "DELETE FROM " + table },
	swap: func(live, staging, retired string) []string {
		// DDL implicitly commits in MySQL, so the transaction offers no
		// protection here. A single multi-table RENAME is atomic: either both
		// tables move or neither does, and the live table never disappears.
		// The retired copy is cleaned up in PostLoad.
		return []string{fmt.Sprintf("RENAME TABLE %s TO %s, %s TO %s",
			quoteBacktick(live), quoteBacktick(retired),
			quoteBacktick(staging), quoteBacktick(live))}
	},
	createIfNotExists: ansiCreate,
}

var mssqlDialect = dialect{
	name:        "mssql",
	driver:      "sqlserver",
	quote:       quoteBracket,
	placeholder: func(n int) string { return fmt.Sprintf("@p%d", n) },
	typeFor: func(t schema.Type) string {
		switch t {
		case schema.Boolean:
			return "BIT"
		case schema.Integer:
			return "BIGINT"
		case schema.Double:
			return "FLOAT"
		default:
			return "NVARCHAR(MAX)"
		}
	},
	// TRUNCATE is rollback-safe in SQL Server.
	truncate: func(table string) string { return "TRUNCATE TABLE " + table },
	swap: func(live, staging, _ string) []string {
		// SQL Server DDL participates in the transaction.
		return []string{
			"DROP TABLE IF EXISTS " + quoteBracket(live),
			fmt.Sprintf("EXEC sp_rename '%s', '%s'",
				strings.ReplaceAll(staging, "'", "''"), strings.ReplaceAll(live, "'", "''")),
		}
	},
	createIfNotExists: func(table, quoted, defs string) string {
		return fmt.Sprintf("IF OBJECT_ID('%s', 'U') IS NULL CREATE TABLE %s (%s)",
			strings.ReplaceAll(table, "'", "''"), quoted, defs)
	},
}

func newSQLite(o config.Options) (Destination, error) { return newSQLDB(sqliteDialect, o) }
func newMySQL(o config.Options) (Destination, error)  { return newSQLDB(mysqlDialect, o) }
func newMSSQL(o config.Options) (Destination, error)  { return newSQLDB(mssqlDialect, o) }

// SQLDB is the database/sql writer shared by the sqlite, mysql, and mssql
// destinations. It implements the same dual strategy as the Postgres writer;
// historize mode is Postgres-only.
type SQLDB struct {
	d           dialect
	dsn         string
	driver      string
	table       string
	writeMode   string
	createTable bool
	threshold   int

	mu       sync.Mutex
	db       *sql.DB
	strategy Strategy
	staging  string
	retired  string
	inferred schema.Schema
}

func newSQLDB(d dialect, o config.Options) (Destination, error) {
	table := o.String("table", o.String("table_name", ""))
	if table == "" {
		return nil, &etlerr.ConfigError{
			Component: "destination",
			Tag:       d.name,
			Option:    "table",
			Reason:    "missing required option",
		}
	}
	dsn := o.String("dsn", "")
	if dsn == "" {
		return nil, &etlerr.ConfigError{
			Component: "destination",
			Tag:       d.name,
			Option:    "dsn",
			Reason:    "missing required option",
		}
	}
	mode := strings.ToLower(o.String("write_mode", "append"))
	if _, ok := writeModes[mode]; !ok {
		return nil, &etlerr.ConfigError{
			Component: "destination",
			Tag:       d.name,
			Option:    "write_mode",
			Reason:    fmt.Sprintf("invalid write_mode %q; must be append, truncate, replace, or historize", mode),
		}
	}
	if mode == "historize" {
		return nil, &etlerr.ConfigError{
			Component: "destination",
			Tag:       d.name,
			Option:    "write_mode",
			Reason:    "historize is only supported by the postgres destination",
		}
	}

	return &SQLDB{
		d:           d,
		dsn:         dsn,
		driver:      o.String("driver", d.driver),
		table:       table,
		writeMode:   mode,
		createTable: o.Bool("create_table", true),
		threshold:   o.Int("staging_threshold", DefaultStagingThreshold),
	}, nil
}

func (w *SQLDB) Name() string { return w.d.name }

func (w *SQLDB) ensureDB() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db != nil {
		return nil
	}
	db, err := sql.Open(w.driver, w.dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", w.driver, err)
	}
	w.db = db
	return nil
}

func (w *SQLDB) PreLoad(ctx context.Context, batch records.Batch) error {
	if len(batch) == 0 {
		return nil
	}
	if err := w.ensureDB(); err != nil {
		return &etlerr.LoadError{Table: w.table, Op: "connect", Err: err}
	}

	w.inferred = schema.Infer(batch)
	w.strategy = ChooseStrategy(len(batch), w.threshold)
	now := time.Now().UnixNano()
	w.staging = fmt.Sprintf("%s_staging_%d", w.table, now)
	w.retired = fmt.Sprintf("%s_retired_%d", w.table, now)

	if w.createTable {
		if _, err := w.db.ExecContext(ctx, w.createSQL(w.table)); err != nil {
			return &etlerr.LoadError{Table: w.table, Op: "create table", Err: err}
		}
	}

	log.Printf("destination %s: table=%s mode=%s strategy=%s rows=%d",
		w.d.name, w.table, w.writeMode, w.strategy, len(batch))
	return nil
}

// Load writes the batch. Direct loads run in a single transaction against
// the live table. Staged loads bulk-insert into the staging table and commit
// that first; only the promotion step that touches the live table runs in a
// second, short transaction. A failure at any point leaves the live table as
// it was, and a failed promotion leaves the staging table behind for
// inspection.
func (w *SQLDB) Load(ctx context.Context, batch records.Batch) (*Result, error) {
	start := time.Now()
	res := &Result{
		Table:     w.table,
		Strategy:  w.strategy,
		WriteMode: w.writeMode,
	}
	if len(batch) == 0 {
		return res, nil
	}

	var loaded int64
	var err error
	if w.strategy == StrategyDirect {
		loaded, err = w.loadDirect(ctx, batch)
	} else {
		loaded, err = w.loadStaged(ctx, batch)
	}
	if err != nil {
		return nil, err
	}

	res.RowsLoaded = loaded
	res.Duration = time.Since(start)
	return res, nil
}

func (w *SQLDB) loadDirect(ctx context.Context, batch records.Batch) (int64, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &etlerr.LoadError{Table: w.table, Op: "begin", Err: err}
	}

	if w.writeMode == "truncate" || w.writeMode == "replace" {
		if _, err := tx.ExecContext(ctx, w.d.truncate(w.d.quote(w.table))); err != nil {
			_ = tx.Rollback()
			return 0, &etlerr.LoadError{Table: w.table, Op: "truncate", Err: err}
		}
	}
	loaded, err := w.insertBatch(ctx, tx, w.table, w.inferred.Names(), batch)
	if err != nil {
		_ = tx.Rollback()
		return 0, &etlerr.LoadError{Table: w.table, Op: "insert", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &etlerr.LoadError{Table: w.table, Op: "commit", Err: err}
	}
	return loaded, nil
}

func (w *SQLDB) loadStaged(ctx context.Context, batch records.Batch) (int64, error) {
	cols := w.inferred.Names()

	if _, err := w.db.ExecContext(ctx, w.createSQL(w.staging)); err != nil {
		return 0, &etlerr.LoadError{Table: w.table, Op: "create staging", Err: err}
	}

	// Bulk phase: committed on its own, touching only the staging table.
	btx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &etlerr.LoadError{Table: w.table, Op: "begin", Err: err}
	}
	loaded, err := w.insertBatch(ctx, btx, w.staging, cols, batch)
	if err != nil {
		_ = btx.Rollback()
		return 0, &etlerr.LoadError{Table: w.table, Op: "insert", Err: err}
	}
	if err := btx.Commit(); err != nil {
		return 0, &etlerr.LoadError{Table: w.table, Op: "commit staging", Err: err}
	}

	// Promotion phase: one short transaction around the statements that
	// touch the live table.
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &etlerr.LoadError{Table: w.table, Op: "begin", Err: err}
	}
	op, err := w.promote(ctx, tx, cols)
	if err != nil {
		_ = tx.Rollback()
		return 0, &etlerr.LoadError{Table: w.table, Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &etlerr.LoadError{Table: w.table, Op: "commit", Err: err}
	}
	return loaded, nil
}

func (w *SQLDB) promote(ctx context.Context, tx *sql.Tx, cols []string) (string, error) {
	switch w.writeMode {
	case "replace":
		for _, stmt := range w.d.swap(w.table, w.staging, w.retired) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return "swap", err
			}
		}
	case "truncate", "append":
		if w.writeMode == "truncate" {
			if _, err := tx.ExecContext(ctx, w.d.truncate(w.d.quote(w.table))); err != nil {
				return "truncate", err
			}
		}
		quotedCols := strings.Join(w.quoteAll(cols), ", ")
		promote := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			w.d.quote(w.table), quotedCols, quotedCols, w.d.quote(w.staging))
		if _, err := tx.ExecContext(ctx, promote); err != nil {
			return "promote", err
		}
	}
	return "", nil
}

// insertBatch writes rows with a prepared multi-use INSERT. Engines here
// lack a COPY equivalent through database/sql, so row-at-a-time inside one
// transaction is the portable path.
func (w *SQLDB) insertBatch(ctx context.Context, tx *sql.Tx, table string, cols []string, batch records.Batch) (int64, error) {
	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = w.d.placeholder(i + 1)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		w.d.quote(table), strings.Join(w.quoteAll(cols), ", "), strings.Join(marks, ", ")))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var n int64
	for _, rec := range batch {
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = rec[c]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// PostLoad drops the consumed staging table and, for dialects whose swap
// parks the old live table under the retired name, that table too.
func (w *SQLDB) PostLoad(ctx context.Context, res *Result) error {
	if w.db != nil {
		for _, table := range []string{w.staging, w.retired} {
			if table == "" {
				continue
			}
			if _, err := w.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+w.d.quote(table)); err != nil {
				log.Printf("destination %s: drop %s: %v", w.d.name, table, err)
			}
		}
	}
	log.Printf("destination %s: loaded table=%s rows=%d strategy=%s duration=%s",
		w.d.name, res.Table, res.RowsLoaded, res.Strategy, res.Duration.Round(time.Millisecond))
	return nil
}

func (w *SQLDB) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db != nil {
		_ = w.db.Close()
		w.db = nil
	}
}

func (w *SQLDB) createSQL(table string) string {
	defs := make([]string, 0, len(w.inferred))
	for _, c := range w.inferred {
		defs = append(defs, w.d.quote(c.Name)+" "+w.d.typeFor(c.Type))
	}
	return w.d.createIfNotExists(table, w.d.quote(table), strings.Join(defs, ", "))
}

func (w *SQLDB) quoteAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = w.d.quote(c)
	}
	return out
}
