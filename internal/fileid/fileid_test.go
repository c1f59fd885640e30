package fileid

import "testing"

func TestDatasetID(t *testing.T) {
	// Deterministic: same path gives same ID
	id1 := DatasetID("/foo/bar.txt")
	id2 := DatasetID("/foo/bar.txt")
	if id1 != id2 {
		t.Errorf("same path should give same ID: %q vs %q", id1, id2)
	}
	if len(id1) < 10 {
		t.Errorf("ID too short: %q", id1)
	}
	if id1[:len(prefix)] != prefix {
		t.Errorf("ID should have prefix %q: got %q", prefix, id1)
	}
}

func TestDatasetID_differentPaths(t *testing.T) {
	if DatasetID("/foo/bar.txt") == DatasetID("/foo/baz.txt") {
		t.Error("different paths should give different IDs")
	}
}

func TestDatasetID_normalized(t *testing.T) {
	// Clean path: /foo/bar and /foo/bar/ and /foo/./bar should match
	id1 := DatasetID("/foo/bar")
	id2 := DatasetID("/foo/bar/")
	id3 := DatasetID("/foo/./bar")
	if id1 != id2 {
		t.Errorf("paths differing only by trailing slash should match: %q vs %q", id1, id2)
	}
	if id1 != id3 {
		t.Errorf("paths with . should normalize: %q vs %q", id1, id3)
	}
}
