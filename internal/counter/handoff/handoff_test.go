package handoff

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/freq"
	apperrors "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/errors"
)

func sampleTable() *freq.Table {
	return freq.FromEntries([]freq.Entry{
		{Term: "the", Count: 3},
		{Term: "cat", Count: 2},
		{Term: "nul\x00byte", Count: 1},
		{Term: strings.Repeat("w", 49), Count: 1 << 40},
	})
}

func TestEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	want := sampleTable().Entries()
	if err := Encode(&buf, 49, want); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got, size := buf.Len(), HeaderSize+len(want)*RecordSize(49)+FooterSize; got != size {
		t.Errorf("artifact is %d bytes, want %d", got, size)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEncodeRejectsWideTerm(t *testing.T) {
	err := Encode(&bytes.Buffer{}, 3, []freq.Entry{{Term: "four", Count: 1}})
	if err == nil {
		t.Fatal("expected error for term wider than record")
	}
}

func TestDecodeDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, 8, sampleTable().Entries()[:2]); err != nil {
		t.Fatal(err)
	}
	good := buf.Bytes()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"bad magic", func(b []byte) []byte { b[0] ^= 0xff; return b }},
		{"bad version", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[4:8], 9); return b }},
		{"flipped record byte", func(b []byte) []byte { b[HeaderSize+3] ^= 0x01; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)-6] }},
		{"count too large", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[8:12], 3); return b }},
		{"trailing bytes", func(b []byte) []byte { return append(b, 0) }},
		{"empty", func(b []byte) []byte { return nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), good...))
			_, err := Decode(bytes.NewReader(data))
			if !errors.Is(err, apperrors.ErrHandoffCorrupt) {
				t.Errorf("expected ErrHandoffCorrupt, got %v", err)
			}
		})
	}
}

func TestFileStoreDeliverCollect(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir(), 49)
	table := sampleTable()
	if err := store.Deliver(ctx, 2, table); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if _, err := os.Stat(store.Path(2)); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if _, err := os.Stat(store.Path(2) + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
	got, err := store.Collect(ctx, 2)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !got.Equal(table) {
		t.Errorf("got %v, want %v", got.Map(), table.Map())
	}
	if _, err := os.Stat(store.Path(2)); !os.IsNotExist(err) {
		t.Error("artifact must be deleted once consumed")
	}
	if _, err := store.Collect(ctx, 2); !errors.Is(err, apperrors.ErrWorkerFailed) {
		t.Errorf("second collect: expected ErrWorkerFailed, got %v", err)
	}
}

func TestMailboxConsumesOnce(t *testing.T) {
	ctx := context.Background()
	mb := NewMailbox(49)
	table := sampleTable()
	if err := mb.Deliver(ctx, 0, table); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := mb.Deliver(ctx, 0, table); err == nil {
		t.Error("duplicate delivery must fail")
	}
	if mb.Pending() != 1 {
		t.Errorf("Pending = %d", mb.Pending())
	}
	got, err := mb.Collect(ctx, 0)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !got.Equal(table) {
		t.Errorf("got %v", got.Map())
	}
	if _, err := mb.Collect(ctx, 0); !errors.Is(err, apperrors.ErrWorkerFailed) {
		t.Errorf("expected ErrWorkerFailed, got %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewMailbox(8).Deliver(ctx, 0, freq.NewTable(0)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
