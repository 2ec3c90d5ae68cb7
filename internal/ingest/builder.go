package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/standardbeagle/bikidata/internal/config"
	"github.com/standardbeagle/bikidata/internal/debug"
	"github.com/standardbeagle/bikidata/internal/rdf"
	"github.com/standardbeagle/bikidata/internal/semantic"
)

// ErrAlreadyBuilt is returned when the store already holds triples. Bulk
// ingest never appends; incremental writes go through the dispatcher.
var ErrAlreadyBuilt = errors.New("store already contains triples")

// Result reports a completed build.
type Result struct {
	Duration time.Duration
	Count    int
}

const schemaSQL = `
create table if not exists literals (hash ubigint, value varchar);
create table if not exists iris (hash ubigint, value varchar);
create table if not exists triples (s ubigint, p ubigint, o ubigint, g ubigint);
`

// Build parses the given N-Triples/TriG files (gzip detected by suffix),
// writes the interim streams and bulk-loads them into db in one transaction.
func Build(ctx context.Context, db *sql.DB, cfg config.Ingest, paths []string) (Result, error) {
	if len(paths) == 0 {
		return Result{}, fmt.Errorf("no triples to index, empty path list")
	}
	debug.LogIngest("building index from %v\n", paths)
	return BuildFromSource(ctx, db, cfg, func(emit rdf.EmitFunc) error {
		return rdf.ParseFiles(paths, emit)
	})
}

// BuildFromSource is Build for any quad producer, e.g. pre-opened streams.
func BuildFromSource(ctx context.Context, db *sql.DB, cfg config.Ingest, source func(rdf.EmitFunc) error) (Result, error) {
	start := time.Now()

	populated, err := storeIsPopulated(ctx, db)
	if err != nil {
		return Result{}, err
	}
	if populated {
		return Result{}, ErrAlreadyBuilt
	}

	writer, err := NewDictWriter(cfg.TriplePath, cfg.MapPath)
	if err != nil {
		return Result{}, err
	}
	if err := source(writer.Add); err != nil {
		writer.Close()
		return Result{}, fmt.Errorf("parse input: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, err
	}
	debug.LogIngest("wrote %d quads to %s and %s\n", writer.Count(), cfg.TriplePath, cfg.MapPath)

	if err := loadStreams(ctx, db, cfg); err != nil {
		// interim files are kept for diagnostics
		return Result{}, err
	}
	if err := writer.Remove(); err != nil {
		return Result{}, fmt.Errorf("remove interim files: %w", err)
	}
	return Result{Duration: time.Since(start), Count: writer.Count()}, nil
}

// storeIsPopulated distinguishes an empty or fresh store from one holding
// data. A missing triples table counts as fresh.
func storeIsPopulated(ctx context.Context, db *sql.DB) (bool, error) {
	var n int64
	err := db.QueryRowContext(ctx, "select count(*) from triples").Scan(&n)
	if err != nil {
		debug.LogIngest("no triples table yet (%v), store is fresh\n", err)
		return false, nil
	}
	return n > 0, nil
}

// loadStreams creates the schema, bulk-loads both interim files and builds
// the literal FTS index, all in one transaction.
func loadStreams(ctx context.Context, db *sql.DB, cfg config.Ingest) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`insert into triples(s,p,o,g) select ('0x' || column0).lower()::ubigint, ('0x' || column1).lower()::ubigint, ('0x' || column2).lower()::ubigint, ('0x' || column3).lower()::ubigint from read_csv('%s', delim='\t', header=false)`,
		cfg.TriplePath)); err != nil {
		return fmt.Errorf("load triples: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`insert into literals select ('0x' || column0).lower()::ubigint, ANY_VALUE(column1) from read_csv('%s', delim='\t|\t', header=false, max_line_size=5100000, quote='') where substr(column1, 1, 1) = '"' group by column0 order by column0`,
		cfg.MapPath)); err != nil {
		return fmt.Errorf("load literals: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`insert into iris select ('0x' || column0).lower()::ubigint, ANY_VALUE(column1) from read_csv('%s', delim='\t|\t', header=false, max_line_size=5100000, quote='') where substr(column1, 1, 1) != '"' group by column0 order by column0`,
		cfg.MapPath)); err != nil {
		return fmt.Errorf("load iris: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`pragma create_fts_index('literals', 'hash', 'value', stemmer='%s')`, cfg.Stemmer)); err != nil {
		return fmt.Errorf("build literal fts index: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit load: %w", err)
	}
	return nil
}

// subjectDocSQL materializes temp_fts1: for each subject, its distinct direct
// literal objects joined into one document. The one-hop documents are added
// on top of it by BuildFTSS.
const subjectDocSQL = `
CREATE TEMPORARY TABLE temp_fts1 AS
WITH list_values AS (
  SELECT
    s, list_distinct(list(value)) AS value_list
  FROM
    triples T
    JOIN literals L ON T.o = L.hash
  GROUP BY s
),
unnested AS (
  SELECT s, unnest(value_list) AS val FROM list_values
)
SELECT
  s,
  string_agg(val, '\n') AS values
FROM unnested GROUP BY s
`

// BuildFTSS materializes the per-subject fts table and indexes it. The
// values column is nulled after indexing; the inverted index keeps its own
// copy of the data.
func BuildFTSS(ctx context.Context, db *sql.DB, stemmer string) (Result, error) {
	start := time.Now()
	conn, err := db.Conn(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	steps := []string{
		subjectDocSQL,
		`CREATE TEMPORARY TABLE temp_fts2 AS SELECT T.s, string_agg(R.values, '\n') AS values FROM triples T JOIN temp_fts1 R ON T.o = R.s GROUP BY T.s`,
		`CREATE TABLE fts AS select s, string_agg(values, '\t') AS values
FROM
    (SELECT s, values FROM temp_fts1 UNION SELECT s, values FROM temp_fts2)
GROUP BY s`,
		fmt.Sprintf(`pragma create_fts_index('fts', 's', 'values', stemmer='%s')`, stemmer),
		`UPDATE fts SET values = NULL`,
	}
	for _, step := range steps {
		if _, err := conn.ExecContext(ctx, step); err != nil {
			return Result{}, fmt.Errorf("build subject fts: %w", err)
		}
	}
	return Result{Duration: time.Since(start)}, nil
}

// BuildSemantic embeds every subject document and fills literals_semantic,
// keyed by subject hash. Documents come from the fts table when it still
// carries values; after BuildFTSS has nulled them, each subject's document is
// re-materialized from its direct literal objects only, without the one-hop
// part of the fts documents. The fts table must exist; without it the build
// fails.
func BuildSemantic(ctx context.Context, db *sql.DB, embedder semantic.Embedder) (Result, error) {
	start := time.Now()
	dim := embedder.Dimension()
	batch := embedder.BatchSize()

	conn, err := db.Conn(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS literals_semantic (hash ubigint, vec FLOAT[%d])", dim)); err != nil {
		return Result{}, fmt.Errorf("create literals_semantic: %w", err)
	}

	docQuery := "SELECT s, values FROM fts WHERE values IS NOT NULL"
	var withValues int64
	if err := conn.QueryRowContext(ctx, "SELECT count(*) FROM fts WHERE values IS NOT NULL").Scan(&withValues); err != nil {
		return Result{}, fmt.Errorf("inspect fts table: %w", err)
	}
	if withValues == 0 {
		debug.LogIngest("fts values already reclaimed, re-materializing subject documents\n")
		if _, err := conn.ExecContext(ctx, subjectDocSQL); err != nil {
			return Result{}, fmt.Errorf("re-materialize documents: %w", err)
		}
		docQuery = "SELECT s, values FROM temp_fts1 WHERE values IS NOT NULL"
	}

	// Inserts go through a second connection: the document cursor stays open
	// on the first for the whole scan.
	writeConn, err := db.Conn(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquire write connection: %w", err)
	}
	defer writeConn.Close()

	rows, err := conn.QueryContext(ctx, docQuery)
	if err != nil {
		return Result{}, fmt.Errorf("read subject documents: %w", err)
	}
	defer rows.Close()

	var (
		hashes []uint64
		texts  []string
		count  int
	)
	flush := func() error {
		if len(texts) == 0 {
			return nil
		}
		vecs, err := embedder.Embed(ctx, semantic.KindDocument, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		if err := insertVectors(ctx, writeConn, hashes, vecs, dim); err != nil {
			return err
		}
		count += len(texts)
		debug.LogIngest("embedded %d subject documents so far\n", count)
		hashes = hashes[:0]
		texts = texts[:0]
		return nil
	}

	for rows.Next() {
		var s uint64
		var doc sql.NullString
		if err := rows.Scan(&s, &doc); err != nil {
			return Result{}, err
		}
		if !doc.Valid || doc.String == "" {
			continue
		}
		hashes = append(hashes, s)
		texts = append(texts, doc.String)
		if len(texts) >= batch {
			if err := flush(); err != nil {
				return Result{}, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	if err := flush(); err != nil {
		return Result{}, err
	}
	return Result{Duration: time.Since(start), Count: count}, nil
}

// insertVectors appends one batch. Vectors are written as typed array
// literals; the fixed-length FLOAT[D] column type has no bind path.
func insertVectors(ctx context.Context, conn *sql.Conn, hashes []uint64, vecs [][]float32, dim int) error {
	for i, vec := range vecs {
		stmt := fmt.Sprintf("INSERT INTO literals_semantic (hash, vec) VALUES (%d, %s)",
			hashes[i], semantic.VectorSQL(vec, dim))
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("insert vector for %d: %w", hashes[i], err)
		}
	}
	return nil
}
