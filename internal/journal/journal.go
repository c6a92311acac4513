// Package journal persists the fill stream as JSON lines so sessions can be
// replayed and PnL reconciled offline.
package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/iojason/hl-bots/internal/market"
)

// Record is one journaled fill row.
type Record struct {
	Instrument string    `json:"instrument"`
	Price      float64   `json:"price"`
	Qty        float64   `json:"qty"`
	Side       int       `json:"side"`
	Maker      bool      `json:"maker"`
	Ts         time.Time `json:"ts"`
}

// Writer appends fills as JSON lines.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewWriter creates/opens the target file and returns a writer.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Record writes a single fill row.
func (w *Writer) Record(f market.Fill) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return
	}
	_ = w.enc.Encode(Record{
		Instrument: f.Instrument,
		Price:      f.Price,
		Qty:        f.Qty,
		Side:       f.Side,
		Maker:      f.Maker,
		Ts:         f.Ts,
	})
}

// Close flushes and closes the file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
