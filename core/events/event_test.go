package events

import "testing"

func TestCaptureEmitterRetainsOrder(t *testing.T) {
	capture := &CaptureEmitter{}
	capture.Emit(&Event{Type: "first"})
	capture.Emit(&Event{Type: "second"})
	capture.Emit(nil)

	got := capture.Events()
	if len(got) != 2 {
		t.Fatalf("captured %d events, want 2", len(got))
	}
	if got[0].Type != "first" || got[1].Type != "second" {
		t.Fatalf("events out of order: %v", got)
	}
}

func TestCaptureEventsReturnsSnapshot(t *testing.T) {
	capture := &CaptureEmitter{}
	capture.Emit(&Event{Type: "a"})
	snapshot := capture.Events()
	capture.Emit(&Event{Type: "b"})
	if len(snapshot) != 1 {
		t.Fatalf("snapshot grew after later emits: %v", snapshot)
	}
}

func TestMultiEmitterFansOut(t *testing.T) {
	first := &CaptureEmitter{}
	second := &CaptureEmitter{}
	multi := NewMultiEmitter(first, nil, second)

	multi.Emit(&Event{Type: "escrow.created"})
	if len(first.Events()) != 1 || len(second.Events()) != 1 {
		t.Fatalf("event not fanned out to every emitter")
	}
}

func TestNoopEmitterDiscards(t *testing.T) {
	var emitter Emitter = NoopEmitter{}
	emitter.Emit(&Event{Type: "ignored"})
	emitter.Emit(nil)
}
