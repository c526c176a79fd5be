package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/roach88/listbridge/internal/toc"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testRecord creates a record whose state carries its id and name.
func testRecord(id, key string) *toc.Record {
	return &toc.Record{
		ID:   id,
		Key:  key,
		Data: json.RawMessage(fmt.Sprintf(`{"id": %q, "name": %q}`, id, key)),
	}
}

func putRecords(t *testing.T, s *Store, namespace, list string, recs ...*toc.Record) {
	t.Helper()
	if err := s.PutAll(context.Background(), namespace, list, recs); err != nil {
		t.Fatalf("PutAll() failed: %v", err)
	}
}

func loadIDs(t *testing.T, s *Store, namespace, list string) []string {
	t.Helper()
	recs, err := s.Load(context.Background(), namespace, list)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}
