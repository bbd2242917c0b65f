package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/plexsphere/natcheck/internal/natcheck"
	"github.com/plexsphere/natcheck/internal/store"
	"github.com/plexsphere/natcheck/internal/transport"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func seedRecords(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	fs, err := store.NewFileStore(dir, slog.New(slog.NewTextHandler(nopWriter{}, nil)))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	recs := []natcheck.SessionRecord{
		{
			Identifier: "laptop-1",
			Local:      transport.Address{IP: "10.0.0.5", Port: 4000},
			External:   transport.Address{IP: "203.0.113.9", Port: 50015},
			NAT: natcheck.NATType{
				HasNAT: true, Mapping: natcheck.AddressAndPortDependent,
				Filtering: natcheck.AddressAndPortDependent, Predictable: true, PortDelta: 5,
			},
			CompletedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		{
			Identifier:  "server-1",
			Local:       transport.Address{IP: "198.51.100.7", Port: 4000},
			External:    transport.Address{IP: "198.51.100.7", Port: 4000},
			NAT:         natcheck.NoNAT(),
			CompletedAt: time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC),
		},
	}
	for _, r := range recs {
		if err := fs.AddRecord(context.Background(), r); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
	}
	return dir
}

func TestRecordsCommand_Table(t *testing.T) {
	dir := seedRecords(t)

	output, err := execute(t, "records", "--data-dir", dir)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	for _, want := range []string{"IDENTIFIER", "laptop-1", "Symmetric", "predictable (delta +5)", "server-1", "Open Internet"} {
		if !strings.Contains(output, want) {
			t.Errorf("output should contain %q, got:\n%s", want, output)
		}
	}
}

func TestRecordsCommand_JSONSingle(t *testing.T) {
	dir := seedRecords(t)

	output, err := execute(t, "records", "--data-dir", dir, "--id", "laptop-1", "--json")
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	var recs []natcheck.SessionRecord
	if err := json.Unmarshal([]byte(output), &recs); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, output)
	}
	if len(recs) != 1 || recs[0].Identifier != "laptop-1" || recs[0].NAT.PortDelta != 5 {
		t.Errorf("records = %+v", recs)
	}
}

func TestRecordsCommand_UnknownID(t *testing.T) {
	dir := seedRecords(t)

	_, err := execute(t, "records", "--data-dir", dir, "--id", "nobody")
	if err == nil || !strings.Contains(err.Error(), "record not found") {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestRecordsCommand_NoDataDir(t *testing.T) {
	_, err := execute(t, "records")
	if err == nil || !strings.Contains(err.Error(), "no data directory") {
		t.Errorf("error = %v, want missing data directory", err)
	}
}
