package db

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "audit", "analysis.db"), true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	entries := []Entry{
		{RequestID: "r1", Kind: KindPredict, SeqDigest: Digest("MKVLQ"), SeqLength: 5, Model: "alpha", Status: "ok", PredictionCount: 2, TopLabel: "kinase", TopConfidence: 0.9},
		{RequestID: "r2", Kind: KindPredict, SeqDigest: Digest("MKVLQ"), SeqLength: 5, Model: "alpha", Status: "empty"},
		{RequestID: "r3", Kind: KindAlign, SeqDigest: Digest("AAA"), SeqLength: 3, Status: "fault", Detail: "alignment computation failed"},
	}
	for _, e := range entries {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	recent, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].RequestID != "r3" || recent[1].RequestID != "r2" {
		t.Fatalf("unexpected entries %+v", recent)
	}
	if recent[0].Detail != "alignment computation failed" || recent[0].CreatedAt.IsZero() {
		t.Fatalf("entry fields not round-tripped: %+v", recent[0])
	}

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["ok"] != 1 || counts["empty"] != 1 || counts["fault"] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestDigestHidesSequence(t *testing.T) {
	d := Digest("MKVLQ")
	if len(d) != 40 || d == "MKVLQ" {
		t.Fatalf("unexpected digest %q", d)
	}
	if d != Digest("MKVLQ") || d == Digest("MKVLA") {
		t.Fatal("digest must be stable and distinguish sequences")
	}
}

func TestNilStore(t *testing.T) {
	var store *Store
	if err := store.Record(context.Background(), Entry{}); err == nil {
		t.Fatal("expected error from nil store")
	}
}
