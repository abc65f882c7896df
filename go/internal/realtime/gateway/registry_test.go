package gateway

import (
	"testing"
)

func TestRegistryMultiTabCounting(t *testing.T) {
	registry := NewRegistry(DefaultConnectionConfig())

	var departures []string
	registry.SetHandlers(nil, func(conn *Connection, userDeparted bool) {
		if userDeparted {
			departures = append(departures, conn.UserID)
		}
	})

	tab1 := registry.NewConnection(nil, "sess_1", "bob")
	tab2 := registry.NewConnection(nil, "sess_1", "bob")

	if first := registry.Register(tab1); !first {
		t.Error("first tab should report firstForUser")
	}
	if first := registry.Register(tab2); first {
		t.Error("second tab should not report firstForUser")
	}
	if count := registry.UserCount("sess_1", "bob"); count != 2 {
		t.Errorf("user count = %d, want 2", count)
	}

	// Closing one of two tabs must not signal departure.
	registry.unregister(tab1)
	if len(departures) != 0 {
		t.Errorf("departure signaled with a tab still open: %v", departures)
	}
	if count := registry.UserCount("sess_1", "bob"); count != 1 {
		t.Errorf("user count = %d, want 1", count)
	}

	// The last tab closing does.
	registry.unregister(tab2)
	if len(departures) != 1 || departures[0] != "bob" {
		t.Errorf("departures = %v, want [bob]", departures)
	}
	if count := registry.UserCount("sess_1", "bob"); count != 0 {
		t.Errorf("user count = %d, want 0", count)
	}
}

func TestRegistryUnregisterIsIdempotent(t *testing.T) {
	registry := NewRegistry(DefaultConnectionConfig())

	var calls int
	registry.SetHandlers(nil, func(conn *Connection, userDeparted bool) {
		calls++
	})

	conn := registry.NewConnection(nil, "sess_1", "alice")
	registry.Register(conn)

	// Both pumps call unregister on teardown; only the first counts.
	registry.unregister(conn)
	registry.unregister(conn)

	if calls != 1 {
		t.Errorf("disconnect callback fired %d times, want 1", calls)
	}
}

func TestRegistryStats(t *testing.T) {
	registry := NewRegistry(DefaultConnectionConfig())

	connA1 := registry.NewConnection(nil, "sess_a", "alice")
	connA2 := registry.NewConnection(nil, "sess_a", "bob")
	connB1 := registry.NewConnection(nil, "sess_b", "carol")
	registry.Register(connA1)
	registry.Register(connA2)
	registry.Register(connB1)

	stats := registry.GetStats()
	if stats.TotalConnections != 3 {
		t.Errorf("total connections = %d, want 3", stats.TotalConnections)
	}
	if stats.ActiveSessions != 2 {
		t.Errorf("active sessions = %d, want 2", stats.ActiveSessions)
	}
	if stats.SessionConnections["sess_a"] != 2 {
		t.Errorf("sess_a connections = %d, want 2", stats.SessionConnections["sess_a"])
	}

	// The last connection of a session empties its pool entirely.
	registry.unregister(connB1)
	stats = registry.GetStats()
	if stats.ActiveSessions != 1 {
		t.Errorf("active sessions after teardown = %d, want 1", stats.ActiveSessions)
	}
	if _, ok := stats.SessionConnections["sess_b"]; ok {
		t.Error("sess_b still present after its last connection closed")
	}
}

func TestRegistrySendToAfterUnregister(t *testing.T) {
	registry := NewRegistry(DefaultConnectionConfig())

	conn := registry.NewConnection(nil, "sess_1", "alice")
	registry.Register(conn)
	registry.unregister(conn)

	// The pumps tear a connection down on write errors and ping
	// timeouts; a direct send racing that teardown must be dropped,
	// never panic on the closed channel.
	registry.SendTo(conn, NewErrorEnvelope("sess_1", "too late"))
}

func TestRegistryBroadcastSkipsUnregisteredConnection(t *testing.T) {
	registry := NewRegistry(DefaultConnectionConfig())

	gone := registry.NewConnection(nil, "sess_1", "alice")
	live := registry.NewConnection(nil, "sess_1", "bob")
	registry.Register(gone)
	registry.Register(live)
	registry.unregister(gone)

	registry.handleBroadcast(BroadcastMessage{
		SessionID: "sess_1",
		Envelope:  NewErrorEnvelope("sess_1", "still here"),
	})

	select {
	case <-live.Send:
	default:
		t.Error("live connection did not receive the broadcast")
	}
	select {
	case _, ok := <-gone.Send:
		if ok {
			t.Error("unregistered connection received the broadcast")
		}
	default:
	}
}

func TestRegistryDisconnectHandlerRunsOutsideLock(t *testing.T) {
	registry := NewRegistry(DefaultConnectionConfig())

	// A handler that re-enters the registry deadlocks if the callback
	// fires under the mutex.
	registry.SetHandlers(nil, func(conn *Connection, userDeparted bool) {
		registry.GetStats()
		registry.UserCount(conn.SessionID, conn.UserID)
	})

	conn := registry.NewConnection(nil, "sess_1", "alice")
	registry.Register(conn)
	registry.unregister(conn)
}
