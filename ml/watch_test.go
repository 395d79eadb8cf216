package ml

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRegistryWatch(t *testing.T) {
	dir := t.TempDir()
	labelsDir := t.TempDir()
	writeForest(t, dir, "alpha", 1)

	r, err := NewRegistry(RegistryOptions{
		Dir:        dir,
		LabelsPath: filepath.Join(labelsDir, "labels.json"),
		Vectorizer: DefaultVectorizer,
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	if err := r.Activate("alpha"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()

	// Writes are repeated until seen since the watcher starts asynchronously.
	waitFor := func(what string, write func(), ok func() bool) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for !ok() {
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for %s", what)
			}
			write()
			time.Sleep(50 * time.Millisecond)
		}
	}

	waitFor("model reload",
		func() { writeForest(t, dir, "alpha", 0) },
		func() bool { return topLabel(t, r.Active()) == "second" })

	waitFor("label reload",
		func() {
			if err := saveLabels(filepath.Join(labelsDir, "labels.json"), []string{"kinase", "transport"}); err != nil {
				t.Fatal(err)
			}
		},
		func() bool { return topLabel(t, r.Active()) == "transport" })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}
