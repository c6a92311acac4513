package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iojason/hl-bots/internal/market"
)

func TestWriterAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fills", "session.jsonl")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	w.Record(market.Fill{Instrument: "ETH", Price: 1000.5, Qty: 0.25, Side: 1, Maker: true, Ts: ts})
	w.Record(market.Fill{Instrument: "BTC", Price: 50000, Qty: 0.01, Side: -1, Ts: ts})
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	var rows []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad line: %v", err)
		}
		rows = append(rows, r)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Instrument != "ETH" || rows[0].Side != 1 || !rows[0].Maker {
		t.Fatalf("row 0 mismatch: %+v", rows[0])
	}
	if rows[1].Instrument != "BTC" || rows[1].Qty != 0.01 {
		t.Fatalf("row 1 mismatch: %+v", rows[1])
	}
}

func TestWriterRecordAfterCloseIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	w.Record(market.Fill{Instrument: "ETH", Price: 1, Qty: 1, Side: 1})
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
