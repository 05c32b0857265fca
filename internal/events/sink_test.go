package events

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/opsconduit/pkg/protocol"
)

func TestEmitPreservesOrderWithinQuery(t *testing.T) {
	sink, out := New(8)
	defer sink.Close()
	ctx := context.Background()

	sink.Emit(ctx, protocol.NewThinking("s1", "q1"))
	sink.Emit(ctx, protocol.ToolInvoked{Base: protocol.Base{Type: protocol.EventToolInvoked, SessionID: "s1", QueryID: "q1"}, ToolName: "execute_shell"})
	sink.Emit(ctx, protocol.QueryCompleted{Base: protocol.Base{Type: protocol.EventQueryCompleted, SessionID: "s1", QueryID: "q1"}, Status: protocol.StatusSuccess})

	var kinds []protocol.EventType
	for i := 0; i < 3; i++ {
		select {
		case e := <-out:
			kinds = append(kinds, e.Kind())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	want := []protocol.EventType{protocol.EventThinking, protocol.EventToolInvoked, protocol.EventQueryCompleted}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
}

func TestDroppableEventsDropUnderPressure(t *testing.T) {
	sink, _ := New(1)
	defer sink.Close()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		sink.Emit(ctx, protocol.ResponseChunk{Base: protocol.Base{Type: protocol.EventResponseChunk, SessionID: "s1"}, Content: "x"})
	}

	if sink.DroppedCount() == 0 {
		t.Fatal("expected some droppable events to be dropped under pressure")
	}
}

func TestCloseStopsAcceptingEvents(t *testing.T) {
	sink, out := New(4)
	sink.Close()

	ctx := context.Background()
	sink.Emit(ctx, protocol.NewThinking("s1", "q1"))

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected closed output channel to yield no events")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for closed channel drain")
	}
}
