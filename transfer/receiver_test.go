package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"dropwire/models"
)

func fileInfoPayload(t *testing.T, name string, size int64, index, total int) []byte {
	t.Helper()

	payload, err := json.Marshal(FileInfoMessage{
		Type: TypeFileInfo,
		FileInfo: models.FileInfo{
			Name:       name,
			Size:       size,
			Index:      index,
			TotalFiles: total,
		},
	})
	if err != nil {
		t.Fatalf("marshal file-info: %v", err)
	}
	return payload
}

func TestChunkBeforeFileInfoRejected(t *testing.T) {
	receiver := NewReceiver(&memorySink{}, ReceiverOptions{})

	if err := receiver.HandleBinary([]byte("chunk")); !errors.Is(err, ErrNoActiveFile) {
		t.Errorf("err = %v, want ErrNoActiveFile", err)
	}
}

func TestFileCompleteWithoutFileInfoRejected(t *testing.T) {
	receiver := NewReceiver(&memorySink{}, ReceiverOptions{})

	if err := receiver.HandleText([]byte(`{"type":"file-complete"}`)); !errors.Is(err, ErrNoActiveFile) {
		t.Errorf("err = %v, want ErrNoActiveFile", err)
	}
}

func TestReceiverReassemblesChunksInOrder(t *testing.T) {
	sink := &memorySink{}
	receiver := NewReceiver(sink, ReceiverOptions{})

	if err := receiver.HandleText(fileInfoPayload(t, "doc.txt", 10, 1, 1)); err != nil {
		t.Fatalf("file-info: %v", err)
	}
	for _, chunk := range []string{"hello", " ", "wor", "ld"} {
		if err := receiver.HandleBinary([]byte(chunk)); err != nil {
			t.Fatalf("chunk: %v", err)
		}
	}
	if err := receiver.HandleText([]byte(`{"type":"file-complete"}`)); err != nil {
		t.Fatalf("file-complete: %v", err)
	}

	_, data := sink.saved()
	if len(data) != 1 || !bytes.Equal(data[0], []byte("hello world")) {
		t.Errorf("reassembled = %q", data)
	}
}

func TestAllCompleteClosesDoneOnce(t *testing.T) {
	receiver := NewReceiver(&memorySink{}, ReceiverOptions{})

	if receiver.Completed() {
		t.Fatal("fresh receiver reports completed")
	}

	if err := receiver.HandleText([]byte(`{"type":"all-complete"}`)); err != nil {
		t.Fatalf("all-complete: %v", err)
	}
	// A duplicate marker must not panic on the closed channel.
	if err := receiver.HandleText([]byte(`{"type":"all-complete"}`)); err != nil {
		t.Fatalf("duplicate all-complete: %v", err)
	}

	select {
	case <-receiver.Done():
	default:
		t.Fatal("Done not closed after all-complete")
	}
	if !receiver.Completed() {
		t.Error("Completed() = false after all-complete")
	}
}

func TestOnFileCallbackPerFile(t *testing.T) {
	var names []string
	receiver := NewReceiver(&memorySink{}, ReceiverOptions{
		OnFile: func(info models.FileInfo) {
			names = append(names, info.Name)
		},
	})

	for _, name := range []string{"a.txt", "b.txt"} {
		if err := receiver.HandleText(fileInfoPayload(t, name, 1, 1, 2)); err != nil {
			t.Fatalf("file-info: %v", err)
		}
		if err := receiver.HandleBinary([]byte("x")); err != nil {
			t.Fatalf("chunk: %v", err)
		}
		if err := receiver.HandleText([]byte(`{"type":"file-complete"}`)); err != nil {
			t.Fatalf("file-complete: %v", err)
		}
	}

	if len(names) != 2 || names[0] != "a.txt" || names[1] != "b.txt" {
		t.Errorf("names = %v", names)
	}
}

func TestDirectorySinkFlattensPaths(t *testing.T) {
	dir := t.TempDir()
	sink := DirectorySink{Dir: dir}

	info := models.FileInfo{Name: "../../escape.txt"}
	if err := sink.SaveFile(info, []byte("data")); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	// The sender's path components are discarded; only the base name lands.
	data, err := os.ReadFile(filepath.Join(dir, "escape.txt"))
	if err != nil {
		t.Fatalf("read flattened file: %v", err)
	}
	if string(data) != "data" {
		t.Errorf("content = %q", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}

func TestDirectorySinkFallbackName(t *testing.T) {
	dir := t.TempDir()
	sink := DirectorySink{Dir: dir}

	if err := sink.SaveFile(models.FileInfo{Name: ""}, []byte("x")); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "received.bin")); err != nil {
		t.Errorf("fallback file missing: %v", err)
	}
}

func TestDirectorySinkCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	sink := DirectorySink{Dir: dir}

	if err := sink.SaveFile(models.FileInfo{Name: "a.txt"}, []byte("x")); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.txt")); err != nil {
		t.Errorf("file missing: %v", err)
	}
}
