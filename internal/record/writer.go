package record

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
)

// DefaultRowGroupSize is the number of records buffered before a row group
// is flushed to disk. Chosen the same way the teacher's Collector picks a
// chunk size: large enough to keep per-row-group overhead small, small
// enough that row-group pruning (spec §4.9 partial-file reads) stays useful.
const DefaultRowGroupSize = 128 * 1024

// Writer appends Records to a single record file, flushing a row group
// every RowGroupSize records so that readers can later skip row groups by
// domain without reading the whole file.
type Writer struct {
	f            *os.File
	pw           *parquet.GenericWriter[Record]
	rowGroupSize int
	pending      int
	written      uint64
}

// CreateWriter creates a new record file at path and returns a Writer for
// it. rowGroupSize <= 0 selects DefaultRowGroupSize.
func CreateWriter(path string, rowGroupSize int) (*Writer, error) {
	if rowGroupSize <= 0 {
		rowGroupSize = DefaultRowGroupSize
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("record: create %s: %w", path, err)
	}
	return &Writer{
		f:            f,
		pw:           parquet.NewGenericWriter[Record](f),
		rowGroupSize: rowGroupSize,
	}, nil
}

// Write appends one record, flushing the current row group once
// rowGroupSize records have accumulated.
func (w *Writer) Write(r Record) error {
	if _, err := w.pw.Write([]Record{r}); err != nil {
		return fmt.Errorf("record: write row: %w", err)
	}
	w.pending++
	w.written++
	if w.pending >= w.rowGroupSize {
		if err := w.flushRowGroup(); err != nil {
			return err
		}
	}
	return nil
}

// WriteRows appends a batch of records in one call, still respecting the
// row-group boundary.
func (w *Writer) WriteRows(rows []Record) error {
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) flushRowGroup() error {
	if w.pending == 0 {
		return nil
	}
	if err := w.pw.Flush(); err != nil {
		return fmt.Errorf("record: flush row group: %w", err)
	}
	w.pending = 0
	return nil
}

// NumRecordsWritten reports the total number of records written so far,
// including those not yet flushed to a row group boundary.
func (w *Writer) NumRecordsWritten() uint64 {
	return w.written
}

// Close flushes any partial row group and finalizes the file's footer.
func (w *Writer) Close() error {
	if err := w.flushRowGroup(); err != nil {
		return err
	}
	if err := w.pw.Close(); err != nil {
		return fmt.Errorf("record: close writer: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("record: close file: %w", err)
	}
	return nil
}
