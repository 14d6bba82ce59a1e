// Package writer implements the Streaming Writer (spec.md §4.3): an
// append-only writer that turns a stream of rows into a single Parquet
// artifact without buffering the whole dataset. Built on
// github.com/xitongsys/parquet-go's writer.JSONWriter (schema-dynamic,
// since table schemas are only known at discovery time, not at compile
// time) over parquet-go-source/local for staging — the exact dependency
// pair already required by the teacher's common/go.mod.
package writer

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/hotdata-dev/rivetdb/internal/rerr"
)

// PortableType is the columnar type tag drivers report for each column
// (spec.md §4.4: "the core's responsibility is only that columns discovered
// and columns written agree").
type PortableType string

const (
	TypeString    PortableType = "string"
	TypeInt64     PortableType = "int64"
	TypeFloat64   PortableType = "float64"
	TypeBool      PortableType = "bool"
	TypeTimestamp PortableType = "timestamp"
	TypeBytes     PortableType = "bytes"
)

// ColumnSchema is the subset of catalog.ColumnMeta the writer needs to
// build a Parquet schema, passed in rather than importing internal/catalog
// to avoid a dependency cycle (catalog is lower in the dependency order).
type ColumnSchema struct {
	Name     string
	Type     PortableType
	Nullable bool
}

// rowGroupSize bounds in-memory buffering between flushes (spec.md §5's
// backpressure requirement): small enough that a slow/huge source table
// never holds more than one row group in memory at once.
const rowGroupSize = 64 * 1024 * 1024 // 64 MiB

const flushEveryNRows = 50_000

// Writer streams rows into a single local Parquet file. Callers construct
// one per fetch, call Write for every row the driver produces, and must
// call either Close (success) or Abort (failure).
type Writer struct {
	path    string
	pFile   *local.LocalFile
	pw      *writer.JSONWriter
	columns []ColumnSchema
	written int64
	closed  bool
}

// New creates a Writer staged at path, with a schema derived from columns.
// Drivers never see the file handle — they only see Write.
func New(path string, columns []ColumnSchema) (*Writer, error) {
	pFile, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("opening parquet staging file %q: %w", path, err)
	}

	schemaJSON, err := buildSchemaJSON(columns)
	if err != nil {
		pFile.Close()
		return nil, err
	}

	pw, err := writer.NewJSONWriter(schemaJSON, pFile, 4)
	if err != nil {
		pFile.Close()
		return nil, fmt.Errorf("%w: constructing parquet writer: %v", rerr.ErrInternal, err)
	}
	pw.RowGroupSize = rowGroupSize
	pw.CompressionType = parquetCompression

	return &Writer{path: path, pFile: pFile, pw: pw, columns: columns}, nil
}

// Write appends one row, keyed by column name, and periodically flushes a
// row group so the writer never buffers the entire dataset.
func (w *Writer) Write(row map[string]any) error {
	if w.closed {
		return fmt.Errorf("%w: write after close", rerr.ErrInternal)
	}
	rowJSON, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("%w: encoding row: %v", rerr.ErrInternal, err)
	}
	if err := w.pw.Write(string(rowJSON)); err != nil {
		return fmt.Errorf("%w: writing row: %v", rerr.ErrStorage, err)
	}
	w.written++
	if w.written%flushEveryNRows == 0 {
		if err := w.pw.Flush(true); err != nil {
			return fmt.Errorf("%w: flushing row group: %v", rerr.ErrStorage, err)
		}
	}
	return nil
}

// RowsWritten reports the row count so far, used to populate
// tables.row_count on successful commit.
func (w *Writer) RowsWritten() int64 { return w.written }

// Close flushes the final row group and writes the Parquet footer. After
// Close returns nil, the file at path is complete and readable (spec.md
// §4.3's contract).
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.pw.WriteStop(); err != nil {
		w.pFile.Close()
		return fmt.Errorf("%w: finalizing parquet footer: %v", rerr.ErrStorage, err)
	}
	return w.pFile.Close()
}

// Abort discards the writer and removes the partial file, matching spec.md
// §4.3's "must either not exist or be unreachable" contract for a failed
// write.
func (w *Writer) Abort() {
	if !w.closed {
		w.closed = true
		w.pFile.Close()
	}
	os.Remove(w.path)
}
