package room

import "testing"

func TestHubBroadcastReachesAllMembers(t *testing.T) {
	h := NewHub()
	a := make(chan any, 4)
	b := make(chan any, 4)
	h.Join("iv1", "conn-a", ChannelSubscriber(a))
	h.Join("iv1", "conn-b", ChannelSubscriber(b))

	h.Broadcast("iv1", "hello")

	if got := <-a; got != "hello" {
		t.Fatalf("conn-a got %v, want hello", got)
	}
	if got := <-b; got != "hello" {
		t.Fatalf("conn-b got %v, want hello", got)
	}
}

func TestHubBroadcastExceptSkipsSender(t *testing.T) {
	h := NewHub()
	a := make(chan any, 4)
	b := make(chan any, 4)
	h.Join("iv1", "conn-a", ChannelSubscriber(a))
	h.Join("iv1", "conn-b", ChannelSubscriber(b))

	h.BroadcastExcept("iv1", "conn-a", "typing")

	if got := <-b; got != "typing" {
		t.Fatalf("conn-b got %v, want typing", got)
	}
	select {
	case got := <-a:
		t.Fatalf("conn-a should not receive its own presence event, got %v", got)
	default:
	}
}

func TestHubSendToTargetsOneConnection(t *testing.T) {
	h := NewHub()
	a := make(chan any, 4)
	b := make(chan any, 4)
	h.Join("iv1", "conn-a", ChannelSubscriber(a))
	h.Join("iv1", "conn-b", ChannelSubscriber(b))

	if !h.SendTo("iv1", "conn-a", "private") {
		t.Fatalf("SendTo() = false, want true")
	}
	if got := <-a; got != "private" {
		t.Fatalf("conn-a got %v, want private", got)
	}
	select {
	case got := <-b:
		t.Fatalf("conn-b should not receive a direct send, got %v", got)
	default:
	}

	if h.SendTo("iv1", "missing", "x") {
		t.Fatalf("SendTo() to unknown connection should return false")
	}
}

func TestHubJoinLeaveIdempotent(t *testing.T) {
	h := NewHub()
	a := make(chan any, 4)
	h.Join("iv1", "conn-a", ChannelSubscriber(a))
	h.Join("iv1", "conn-a", ChannelSubscriber(a))
	if h.RoomSize("iv1") != 1 {
		t.Fatalf("RoomSize = %d, want 1 after duplicate join", h.RoomSize("iv1"))
	}

	h.Leave("iv1", "conn-a")
	h.Leave("iv1", "conn-a")
	if h.RoomSize("iv1") != 0 {
		t.Fatalf("RoomSize = %d, want 0 after leave", h.RoomSize("iv1"))
	}
}

func TestHubDropsOnSaturatedSubscriber(t *testing.T) {
	h := NewHub()
	drops := 0
	h.SetDropHook(func(string) { drops++ })

	full := make(chan any) // unbuffered and never read
	h.Join("iv1", "conn-a", ChannelSubscriber(full))

	h.Broadcast("iv1", "event")
	if drops != 1 {
		t.Fatalf("drops = %d, want 1", drops)
	}
}
