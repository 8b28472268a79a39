package chanpipe

import "testing"

// S8: once the consumer closes its subscription, the next Write
// reports false instead of blocking or panicking.
func TestWriteAfterCloseReturnsFalse(t *testing.T) {
	ch := New[int](1)
	if !ch.Write(1) {
		t.Fatal("expected first write to succeed")
	}
	<-ch.C()

	ch.Close()
	if ch.Write(2) {
		t.Fatal("expected write after close to return false")
	}
}

// A full buffer disconnects the writer rather than blocking it.
func TestWriteOnFullBufferReturnsFalse(t *testing.T) {
	ch := New[int](1)
	if !ch.Write(1) {
		t.Fatal("expected first write into empty buffer to succeed")
	}
	if ch.Write(2) {
		t.Fatal("expected write into a full buffer to return false")
	}
}

func TestClosedIsIdempotent(t *testing.T) {
	ch := New[int](1)
	ch.Close()
	ch.Close()
	if !ch.Closed() {
		t.Fatal("expected channel to report closed")
	}
}
