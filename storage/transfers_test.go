package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"dropwire/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenPath(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func TestRecordTransferAndTotals(t *testing.T) {
	store := openTestStore(t)

	records := []models.TransferRecord{
		{RecordID: "r1", Files: 2, Bytes: 1024, DurationMillis: 1500, CompletedAt: 100},
		{RecordID: "r2", Files: 1, Bytes: 4096, DurationMillis: 300, CompletedAt: 200},
	}
	for _, record := range records {
		if err := store.RecordTransfer(record); err != nil {
			t.Fatalf("RecordTransfer(%q): %v", record.RecordID, err)
		}
	}

	totals, err := store.Totals()
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.Transfers != 2 {
		t.Errorf("Transfers = %d, want 2", totals.Transfers)
	}
	if totals.Files != 3 {
		t.Errorf("Files = %d, want 3", totals.Files)
	}
	if totals.Bytes != 5120 {
		t.Errorf("Bytes = %d, want 5120", totals.Bytes)
	}
}

func TestTotalsEmptyDatabase(t *testing.T) {
	store := openTestStore(t)

	totals, err := store.Totals()
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals != (models.TransferTotals{}) {
		t.Errorf("totals = %+v, want zero value", totals)
	}
}

func TestRecordTransferValidation(t *testing.T) {
	store := openTestStore(t)

	if err := store.RecordTransfer(models.TransferRecord{Files: 1, Bytes: 1}); err == nil {
		t.Error("expected error for missing record id")
	}
	if err := store.RecordTransfer(models.TransferRecord{RecordID: "r1", Files: 0}); err == nil {
		t.Error("expected error for zero files")
	}
}

func TestRecordTransferDuplicateID(t *testing.T) {
	store := openTestStore(t)

	record := models.TransferRecord{RecordID: "dup", Files: 1, Bytes: 10, CompletedAt: 1}
	if err := store.RecordTransfer(record); err != nil {
		t.Fatalf("RecordTransfer: %v", err)
	}
	if err := store.RecordTransfer(record); err == nil {
		t.Error("expected error for duplicate record id")
	}
}

func TestRecentTransfersOrdering(t *testing.T) {
	store := openTestStore(t)

	for _, record := range []models.TransferRecord{
		{RecordID: "old", Files: 1, Bytes: 1, CompletedAt: 100},
		{RecordID: "new", Files: 1, Bytes: 1, CompletedAt: 300},
		{RecordID: "mid", Files: 1, Bytes: 1, CompletedAt: 200},
	} {
		if err := store.RecordTransfer(record); err != nil {
			t.Fatalf("RecordTransfer(%q): %v", record.RecordID, err)
		}
	}

	records, err := store.RecentTransfers(2)
	if err != nil {
		t.Fatalf("RecentTransfers: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	if records[0].RecordID != "new" || records[1].RecordID != "mid" {
		t.Errorf("order = [%s %s], want [new mid]", records[0].RecordID, records[1].RecordID)
	}
}

func TestOpenCreatesDatabaseFile(t *testing.T) {
	dir := t.TempDir()

	store, dbPath, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if filepath.Dir(dbPath) != dir {
		t.Errorf("dbPath = %q, want file under %q", dbPath, dir)
	}

	if err := store.RecordTransfer(models.TransferRecord{RecordID: "r1", Files: 1, Bytes: 1}); err != nil {
		t.Fatalf("RecordTransfer: %v", err)
	}
}

func TestGetTransfer(t *testing.T) {
	store := openTestStore(t)

	want := models.TransferRecord{RecordID: "r1", Files: 3, Bytes: 99, DurationMillis: 12, CompletedAt: 7}
	if err := store.RecordTransfer(want); err != nil {
		t.Fatalf("RecordTransfer: %v", err)
	}

	got, err := store.GetTransfer("r1")
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if *got != want {
		t.Errorf("record = %+v, want %+v", *got, want)
	}

	if _, err := store.GetTransfer("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
