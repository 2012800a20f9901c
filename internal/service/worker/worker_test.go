package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"distdetect/internal/logger"
	"distdetect/internal/model"
	"distdetect/internal/protocol"
)

// ========================================
// Test Setup Helpers
// ========================================

type fakeDetector struct {
	result map[model.ClassID][]model.Detection
	err    error
	seen   []model.ClassID
}

func (f *fakeDetector) Detect(_ context.Context, _ []byte, classes []model.ClassID) (map[model.ClassID][]model.Detection, error) {
	f.seen = append([]model.ClassID(nil), classes...)
	return f.result, f.err
}

func testDetection(class model.ClassID) model.Detection {
	return model.Detection{
		Box:        model.Box{X1: 10, Y1: 10, X2: 20, Y2: 20},
		Confidence: 0.9,
		Class:      class,
	}
}

// fakeCoordinator accepts one connection and runs handle on it.
func fakeCoordinator(t *testing.T, handle func(conn net.Conn) error) (string, <-chan error) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(5 * time.Second))
		done <- handle(conn)
	}()
	return ln.Addr().String(), done
}

func newTestWorker(det Detector, avail Availability, framed bool) *Worker {
	return New(det, avail, Options{DialTimeout: time.Second, IOTimeout: 2 * time.Second, FramedReplies: framed}, logger.Discard())
}

func waitCoordinator(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Coordinator side failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Coordinator side did not finish")
	}
}

// ========================================
// Static Mode Tests
// ========================================

func TestRunStatic_SendsClassAndDetections(t *testing.T) {
	for _, framed := range []bool{false, true} {
		t.Run(fmt.Sprintf("framed=%v", framed), func(t *testing.T) {
			var got []model.Detection
			addr, done := fakeCoordinator(t, func(conn net.Conn) error {
				class, err := protocol.ReadClassID(conn)
				if err != nil {
					return err
				}
				if class != model.Car {
					return fmt.Errorf("expected class %v, got %v", model.Car, class)
				}
				if err := protocol.WriteFramed(conn, []byte("image")); err != nil {
					return err
				}
				raw, err := protocol.ReadReply(conn, framed)
				if err != nil {
					return err
				}
				got, err = protocol.DecodeDetections(raw)
				return err
			})

			det := &fakeDetector{result: map[model.ClassID][]model.Detection{
				model.Car:    {testDetection(model.Car)},
				model.Person: {testDetection(model.Person)},
			}}
			w := newTestWorker(det, nil, framed)
			if err := w.RunStatic(context.Background(), addr, model.Car); err != nil {
				t.Fatalf("RunStatic failed: %v", err)
			}
			waitCoordinator(t, done)

			if len(det.seen) != 1 || det.seen[0] != model.Car {
				t.Errorf("Expected detector to be asked for [car], got %v", det.seen)
			}
			if len(got) != 1 || got[0] != testDetection(model.Car) {
				t.Errorf("Expected one car detection, got %+v", got)
			}
		})
	}
}

func TestRunStatic_DecodeErrorRepliesEmpty(t *testing.T) {
	var got []model.Detection
	addr, done := fakeCoordinator(t, func(conn net.Conn) error {
		if _, err := protocol.ReadClassID(conn); err != nil {
			return err
		}
		if err := protocol.WriteFramed(conn, []byte("not an image")); err != nil {
			return err
		}
		raw, err := protocol.ReadUntilClose(conn)
		if err != nil {
			return err
		}
		got, err = protocol.DecodeDetections(raw)
		return err
	})

	det := &fakeDetector{err: fmt.Errorf("%w: bad bytes", ErrDecode)}
	if err := newTestWorker(det, nil, false).RunStatic(context.Background(), addr, model.Person); err != nil {
		t.Fatalf("RunStatic failed: %v", err)
	}
	waitCoordinator(t, done)

	if got == nil || len(got) != 0 {
		t.Errorf("Expected an empty detection list, got %+v", got)
	}
}

func TestRunStatic_InvalidClass(t *testing.T) {
	w := newTestWorker(&fakeDetector{}, nil, false)
	err := w.RunStatic(context.Background(), "127.0.0.1:1", model.ClassID(9))
	if !errors.Is(err, protocol.ErrProtocol) {
		t.Errorf("Expected ErrProtocol, got %v", err)
	}
}

func TestRunStatic_CoordinatorClosesEarly(t *testing.T) {
	addr, done := fakeCoordinator(t, func(conn net.Conn) error {
		_, err := protocol.ReadClassID(conn)
		return err
	})

	err := newTestWorker(&fakeDetector{}, nil, false).RunStatic(context.Background(), addr, model.Bicycle)
	waitCoordinator(t, done)
	if !errors.Is(err, protocol.ErrTruncatedStream) {
		t.Errorf("Expected ErrTruncatedStream, got %v", err)
	}
}

// ========================================
// Dynamic Mode Tests
// ========================================

func offerAvailability(conn net.Conn) (bool, error) {
	probe, err := protocol.EncodeProbe()
	if err != nil {
		return false, err
	}
	if err := protocol.WriteRaw(conn, probe); err != nil {
		return false, err
	}
	reply, err := protocol.ReadRaw(conn)
	if err != nil {
		return false, err
	}
	return protocol.IsAffirmative(reply), nil
}

func TestRunDynamic_AcceptsAssignment(t *testing.T) {
	var got map[model.ClassID][]model.Detection
	addr, done := fakeCoordinator(t, func(conn net.Conn) error {
		ok, err := offerAvailability(conn)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("worker declined")
		}
		payload, err := protocol.EncodeAssignment(model.NewAssignment(model.Person, model.Car))
		if err != nil {
			return err
		}
		if err := protocol.WriteFramed(conn, payload); err != nil {
			return err
		}
		if err := protocol.WriteFramed(conn, []byte("image")); err != nil {
			return err
		}
		raw, err := protocol.ReadUntilClose(conn)
		if err != nil {
			return err
		}
		got, err = protocol.DecodeResult(raw)
		return err
	})

	det := &fakeDetector{result: map[model.ClassID][]model.Detection{
		model.Person:     {testDetection(model.Person)},
		model.Motorcycle: {testDetection(model.Motorcycle)},
	}}
	if err := newTestWorker(det, Always(true), false).RunDynamic(context.Background(), addr); err != nil {
		t.Fatalf("RunDynamic failed: %v", err)
	}
	waitCoordinator(t, done)

	if len(got) != 2 {
		t.Fatalf("Expected 2 classes, got %v", got)
	}
	if len(got[model.Person]) != 1 {
		t.Errorf("Expected one person detection, got %+v", got[model.Person])
	}
	if dets, ok := got[model.Car]; !ok || len(dets) != 0 {
		t.Errorf("Expected empty car list, got %+v (present=%v)", dets, ok)
	}
	if _, ok := got[model.Motorcycle]; ok {
		t.Error("Unassigned motorcycle class should not be reported")
	}
}

func TestRunDynamic_Declines(t *testing.T) {
	addr, done := fakeCoordinator(t, func(conn net.Conn) error {
		ok, err := offerAvailability(conn)
		if err != nil {
			return err
		}
		if ok {
			return errors.New("worker accepted")
		}
		var buf [1]byte
		if _, err := conn.Read(buf[:]); err == nil {
			return errors.New("expected worker to close after declining")
		}
		return nil
	})

	det := &fakeDetector{}
	if err := newTestWorker(det, Always(false), false).RunDynamic(context.Background(), addr); err != nil {
		t.Fatalf("RunDynamic failed: %v", err)
	}
	waitCoordinator(t, done)
	if det.seen != nil {
		t.Error("Detector should not run after declining")
	}
}

func TestRunDynamic_NothingLeftToAssign(t *testing.T) {
	addr, done := fakeCoordinator(t, func(conn net.Conn) error {
		_, err := offerAvailability(conn)
		return err
	})

	if err := newTestWorker(&fakeDetector{}, Always(true), false).RunDynamic(context.Background(), addr); err != nil {
		t.Fatalf("Expected a clean exit, got %v", err)
	}
	waitCoordinator(t, done)
}

func TestRunDynamic_CoordinatorDiesMidAssignment(t *testing.T) {
	addr, done := fakeCoordinator(t, func(conn net.Conn) error {
		if _, err := offerAvailability(conn); err != nil {
			return err
		}
		// Half a length prefix, then the connection drops.
		_, err := conn.Write([]byte{0, 0, 0, 0})
		return err
	})

	err := newTestWorker(&fakeDetector{}, Always(true), false).RunDynamic(context.Background(), addr)
	waitCoordinator(t, done)
	if !errors.Is(err, protocol.ErrTruncatedStream) {
		t.Errorf("Expected ErrTruncatedStream, got %v", err)
	}
	if errors.Is(err, protocol.ErrNoFrame) {
		t.Errorf("A partial frame is not an empty assignment: %v", err)
	}
}

func TestRunDynamic_BadProbe(t *testing.T) {
	addr, done := fakeCoordinator(t, func(conn net.Conn) error {
		return protocol.WriteRaw(conn, []byte{0xc1})
	})

	err := newTestWorker(&fakeDetector{}, Always(true), false).RunDynamic(context.Background(), addr)
	waitCoordinator(t, done)
	if !errors.Is(err, protocol.ErrDeserialization) {
		t.Errorf("Expected ErrDeserialization, got %v", err)
	}
}

// ========================================
// Availability Tests
// ========================================

func TestPrompt_Answers(t *testing.T) {
	tests := []struct {
		input       string
		interactive bool
		fallback    bool
		expected    bool
	}{
		{"yes\n", true, false, true},
		{"  YES \n", true, false, true},
		{"y\n", true, false, true},
		{"no\n", true, true, false},
		{"maybe\n", true, true, false},
		{"", true, true, true},
		{"yes\n", false, false, false},
		{"no\n", false, true, true},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		p := newPrompt(strings.NewReader(tt.input), &out, tt.interactive, tt.fallback)
		got, err := p.Available(context.Background())
		if err != nil {
			t.Fatalf("Available(%q) failed: %v", tt.input, err)
		}
		if got != tt.expected {
			t.Errorf("Available(%q, interactive=%v) = %v, expected %v", tt.input, tt.interactive, got, tt.expected)
		}
		if tt.interactive && !strings.Contains(out.String(), "Are you available?") {
			t.Errorf("Expected prompt to be printed, got %q", out.String())
		}
	}
}

func TestAlways(t *testing.T) {
	for _, v := range []bool{true, false} {
		got, err := Always(v).Available(context.Background())
		if err != nil || got != v {
			t.Errorf("Always(%v) = %v, %v", v, got, err)
		}
	}
}
