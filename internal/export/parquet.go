// Package export dumps a namespace's journals and snapshots to Parquet
// files for offline analysis. Exports read through the Agent contract, so
// they work against any backend.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/veldtgraph/veldt/internal/model"
	"github.com/veldtgraph/veldt/internal/persistence"
)

// Options configures the Parquet output.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// EventRow is one journal event in Parquet format. Node ids are exported in
// their hex form so downstream tools can treat them as strings.
type EventRow struct {
	Namespace string `parquet:"namespace,zstd"`
	NodeID    string `parquet:"node_id,zstd"`
	At        int64  `parquet:"at"`
	Data      []byte `parquet:"data,zstd"`
}

// SnapshotRow is one snapshot version in Parquet format.
type SnapshotRow struct {
	Namespace string `parquet:"namespace,zstd"`
	NodeID    string `parquet:"node_id,zstd"`
	At        int64  `parquet:"at"`
	Data      []byte `parquet:"data,zstd"`
}

// Writer writes rows of one type to a Parquet file.
type Writer[R any] struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[R]
	rowCount int64
	closed   bool
}

// NewWriter creates a Parquet writer at path, creating parent directories
// as needed.
func NewWriter[R any](path string, opts Options) (*Writer[R], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[R](f, parquet.Compression(getCompression(opts.Compression)))
	return &Writer[R]{path: path, file: f, writer: writer}, nil
}

// Write appends rows to the file.
func (w *Writer[R]) Write(rows []R) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	w.rowCount += int64(n)
	return nil
}

// Close flushes and closes the file. Idempotent.
func (w *Writer[R]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *Writer[R]) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *Writer[R]) Path() string {
	return w.path
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")

// Journals writes every journal event in the namespace to a Parquet file
// and returns the number of rows written. Nodes are enumerated first, then
// each node's full journal is read and appended.
func Journals(ctx context.Context, agent persistence.Agent, path string, opts Options) (int64, error) {
	w, err := NewWriter[EventRow](path, opts)
	if err != nil {
		return 0, err
	}

	ns := agent.Namespace().String()
	err = agent.EnumerateJournalNodeIDs(ctx, func(id model.NodeID) error {
		events, err := agent.NodeChangeEvents(ctx, id, model.MinEventTime, model.MaxEventTime)
		if err != nil {
			return err
		}
		rows := make([]EventRow, len(events))
		for i, ev := range events {
			rows[i] = EventRow{Namespace: ns, NodeID: id.String(), At: int64(ev.At), Data: ev.Data}
		}
		return w.Write(rows)
	})
	if err != nil {
		w.Close()
		return 0, err
	}

	n := w.RowCount()
	return n, w.Close()
}

// Snapshots writes the latest snapshot of every node in the namespace to a
// Parquet file and returns the number of rows written.
func Snapshots(ctx context.Context, agent persistence.Agent, path string, opts Options) (int64, error) {
	w, err := NewWriter[SnapshotRow](path, opts)
	if err != nil {
		return 0, err
	}

	ns := agent.Namespace().String()
	err = agent.EnumerateSnapshotNodeIDs(ctx, func(id model.NodeID) error {
		snap, err := agent.LatestSnapshot(ctx, id, model.MaxEventTime)
		if err != nil {
			return err
		}
		if snap == nil {
			return nil
		}
		return w.Write([]SnapshotRow{{Namespace: ns, NodeID: id.String(), At: int64(snap.At), Data: snap.Data}})
	})
	if err != nil {
		w.Close()
		return 0, err
	}

	n := w.RowCount()
	return n, w.Close()
}
