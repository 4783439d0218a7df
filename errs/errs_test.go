package errs

import "testing"

func TestAssertEmptyOnFreshStack(t *testing.T) {
	var s Stack
	if err := s.AssertEmpty(); err != nil {
		t.Fatalf("fresh stack should assert empty, got %v", err)
	}
}

func TestPushThenAssertEmptyFails(t *testing.T) {
	var s Stack
	s.Push(KindInvalidArgument, "page out of range", F("page", uint64(100)))
	if err := s.AssertEmpty(); err == nil {
		t.Fatal("expected AssertEmpty to fail after a push")
	}
}

func TestDrainClearsAndReturnsInOrder(t *testing.T) {
	var s Stack
	s.Push(KindInvalidArgument, "first")
	s.Push(KindIO, "second")

	recs := s.Drain()
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Message != "first" || recs[1].Message != "second" {
		t.Fatalf("records out of order: %+v", recs)
	}
	if err := s.AssertEmpty(); err != nil {
		t.Fatalf("stack should be empty after drain, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected Len()==0 after drain, got %d", s.Len())
	}
}

func TestRecordErrorIncludesFields(t *testing.T) {
	rec := Record{Kind: KindOutOfMemory, Message: "allocate buffer", Fields: []Field{F("size", 4096)}}
	got := rec.Error()
	want := "out-of-memory: allocate buffer size=4096"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
