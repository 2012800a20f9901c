package coordinator

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"distdetect/internal/config"
	"distdetect/internal/logger"
	"distdetect/internal/model"
	"distdetect/internal/protocol"
)

func testDetection(class model.ClassID) model.Detection {
	return model.Detection{
		Box:        model.Box{X1: 10, Y1: 10, X2: 20, Y2: 20},
		Confidence: 0.9,
		Class:      class,
	}
}

type eventLog struct {
	mu     sync.Mutex
	states []State
}

func (l *eventLog) observe(ev SessionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, ev.State)
}

func (l *eventLog) get() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func pipeSession(t *testing.T, timeouts Timeouts, observer Observer) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return NewSession("test-session", server, []byte("image"), timeouts, false, observer, logger.Discard()), client
}

func TestSessionStatic_StatesAndResult(t *testing.T) {
	events := &eventLog{}
	session, client := pipeSession(t, Timeouts{IO: time.Second, Result: time.Second}, events.observe)

	go func() {
		protocol.WriteClassID(client, model.Bicycle)
		protocol.ReadFramed(client)
		payload, _ := protocol.EncodeDetections([]model.Detection{testDetection(model.Bicycle)})
		client.Write(payload)
		client.Close()
	}()

	result, err := session.RunStatic()
	if err != nil {
		t.Fatalf("RunStatic failed: %v", err)
	}
	if len(result.Detections) != 1 || len(result.Detections[model.Bicycle]) != 1 {
		t.Errorf("Expected one bicycle detection, got %+v", result.Detections)
	}

	expected := []State{StateAwaitClassID, StateSendImage, StateAwaitResult, StateDone}
	got := events.get()
	if len(got) != len(expected) {
		t.Fatalf("Expected states %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("State %d: expected %s, got %s", i, expected[i], got[i])
		}
	}
}

func TestSessionStatic_Errors(t *testing.T) {
	tests := []struct {
		name     string
		worker   func(conn net.Conn)
		state    State
		expected error
	}{
		{
			name: "unknown class",
			worker: func(conn net.Conn) {
				conn.Write([]byte{0, 0, 0, 42})
			},
			state:    StateAwaitClassID,
			expected: protocol.ErrProtocol,
		},
		{
			name: "closed before class id",
			worker: func(conn net.Conn) {
				conn.Write([]byte{0, 0})
				conn.Close()
			},
			state:    StateAwaitClassID,
			expected: protocol.ErrTruncatedStream,
		},
		{
			name: "malformed result",
			worker: func(conn net.Conn) {
				protocol.WriteClassID(conn, model.Person)
				protocol.ReadFramed(conn)
				conn.Write([]byte{0xc1, 0x00})
				conn.Close()
			},
			state:    StateAwaitResult,
			expected: protocol.ErrDeserialization,
		},
		{
			name: "dropped before reply",
			worker: func(conn net.Conn) {
				protocol.WriteClassID(conn, model.Person)
				protocol.ReadFramed(conn)
				conn.Close()
			},
			state:    StateAwaitResult,
			expected: protocol.ErrTruncatedStream,
		},
		{
			name: "no reply before deadline",
			worker: func(conn net.Conn) {
				protocol.WriteClassID(conn, model.Person)
				protocol.ReadFramed(conn)
			},
			state:    StateAwaitResult,
			expected: protocol.ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, client := pipeSession(t, Timeouts{IO: time.Second, Result: 100 * time.Millisecond}, nil)
			go tt.worker(client)

			result, err := session.RunStatic()
			if result != nil {
				t.Errorf("Expected no result, got %+v", result)
			}
			if !errors.Is(err, tt.expected) {
				t.Fatalf("Expected %v, got %v", tt.expected, err)
			}
			var serr *protocol.SessionError
			if !errors.As(err, &serr) {
				t.Fatalf("Expected *protocol.SessionError, got %T", err)
			}
			if serr.State != string(tt.state) {
				t.Errorf("Expected failure in %s, got %s", tt.state, serr.State)
			}
		})
	}
}

func TestSessionDynamic_FiltersUnassignedClasses(t *testing.T) {
	session, client := pipeSession(t, Timeouts{IO: time.Second, Availability: time.Second, Result: time.Second}, nil)
	alloc, err := NewAllocator(config.PolicyFirst, []model.ClassID{model.Person, model.Bicycle}, 1)
	if err != nil {
		t.Fatalf("NewAllocator failed: %v", err)
	}

	received := make(chan model.Assignment, 1)
	go func() {
		probe, _ := protocol.ReadRaw(client)
		if protocol.DecodeProbe(probe) != nil {
			client.Close()
			return
		}
		client.Write([]byte("YES"))
		raw, _ := protocol.ReadFramed(client)
		a, _ := protocol.DecodeAssignment(raw)
		received <- a
		protocol.ReadFramed(client)
		payload, _ := protocol.EncodeResult(map[model.ClassID][]model.Detection{
			model.Person:     {testDetection(model.Person)},
			model.Motorcycle: {testDetection(model.Motorcycle)},
		})
		client.Write(payload)
		client.Close()
	}()

	result, err := session.RunDynamic(alloc.Ticket())
	if err != nil {
		t.Fatalf("RunDynamic failed: %v", err)
	}

	if a := <-received; len(a) != 2 {
		t.Errorf("Expected worker to receive 2 classes, got %v", a)
	}
	if len(result.Detections) != 2 {
		t.Fatalf("Expected exactly the assigned classes, got %+v", result.Detections)
	}
	if len(result.Detections[model.Person]) != 1 {
		t.Errorf("Expected one person detection, got %+v", result.Detections[model.Person])
	}
	if dets, ok := result.Detections[model.Bicycle]; !ok || dets == nil || len(dets) != 0 {
		t.Errorf("Expected empty bicycle list, got %+v", dets)
	}
}

func TestSessionDynamic_Decline(t *testing.T) {
	events := &eventLog{}
	session, client := pipeSession(t, Timeouts{IO: time.Second, Availability: time.Second}, events.observe)
	alloc, _ := NewAllocator(config.PolicyFirst, model.AllClasses(), 1)

	extra := make(chan int, 1)
	go func() {
		protocol.ReadRaw(client)
		client.Write([]byte("no"))
		buf := make([]byte, 16)
		n, _ := client.Read(buf)
		extra <- n
	}()

	result, err := session.RunDynamic(alloc.Ticket())
	if err != nil || result != nil {
		t.Fatalf("Expected a silent decline, got %+v, %v", result, err)
	}
	if n := <-extra; n != 0 {
		t.Errorf("Declined worker received %d unexpected bytes", n)
	}
	if rem := alloc.Remaining(); len(rem) != 4 {
		t.Errorf("Decline must not consume classes, remaining %v", rem)
	}

	got := events.get()
	if got[len(got)-1] != StateDecline {
		t.Errorf("Expected last state DECLINE, got %v", got)
	}
}
