package rx

import "testing"

func TestBufferQueue_FIFO(t *testing.T) {
	q := NewBufferQueue(8)

	frames := make([]*FrameBuffer, 5)
	for i := range frames {
		frames[i] = NewFrameBuffer(1)
		frames[i].Frame = i
		if !q.Write(frames[i]) {
			t.Fatalf("Write %d refused", i)
		}
	}

	for i := range frames {
		fb := q.Read()
		if fb == nil {
			t.Fatalf("Read %d returned nil", i)
		}
		if fb.Frame != i {
			t.Errorf("dequeue order: got frame %d at position %d", fb.Frame, i)
		}
	}
}

func TestBufferQueue_EmptyReadReturnsNil(t *testing.T) {
	q := NewBufferQueue(4)
	if fb := q.Read(); fb != nil {
		t.Errorf("Read on empty queue = %v, want nil", fb)
	}
}

func TestBufferQueue_Bounded(t *testing.T) {
	q := NewBufferQueue(2)

	if !q.Write(NewFrameBuffer(1)) || !q.Write(NewFrameBuffer(1)) {
		t.Fatal("writes within bound refused")
	}
	if q.Write(NewFrameBuffer(1)) {
		t.Error("write past bound accepted")
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}
