package coordinator

import (
	"fmt"
	"net"
	"time"

	"distdetect/internal/logger"
	"distdetect/internal/model"
	"distdetect/internal/protocol"
)

// State is a coordinator session protocol state.
type State string

const (
	StateAwaitClassID      State = "AWAIT_CLASS_ID"
	StateSendImage         State = "SEND_IMAGE"
	StateOfferAvailability State = "OFFER_AVAILABILITY"
	StateAwaitAvailability State = "AWAIT_AVAILABILITY"
	StateAssign            State = "ASSIGN"
	StateDecline           State = "DECLINE"
	StateAwaitResult       State = "AWAIT_RESULT"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
)

// SessionEvent reports one state transition of a session.
type SessionEvent struct {
	Session string          `json:"session"`
	Worker  string          `json:"worker"`
	State   State           `json:"state"`
	Classes []model.ClassID `json:"classes,omitempty"`
	Error   string          `json:"error,omitempty"`
	Time    time.Time       `json:"time"`
}

// Observer receives session events. It must not block.
type Observer func(SessionEvent)

// Timeouts are the read deadlines applied per protocol step. Zero disables one.
type Timeouts struct {
	IO           time.Duration
	Availability time.Duration
	Result       time.Duration
}

// Session drives one worker connection through the protocol.
type Session struct {
	id       string
	conn     net.Conn
	image    []byte
	timeouts Timeouts
	framed   bool
	observer Observer
	logger   *logger.Logger

	state      State
	assignment model.Assignment
}

// NewSession creates a session over an accepted connection. image is shared
// read-only with every other session.
func NewSession(id string, conn net.Conn, image []byte, timeouts Timeouts, framed bool, observer Observer, log *logger.Logger) *Session {
	return &Session{
		id:       id,
		conn:     conn,
		image:    image,
		timeouts: timeouts,
		framed:   framed,
		observer: observer,
		logger:   log.WithPrefix("session " + shortID(id)),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the state the session is in.
func (s *Session) State() State { return s.state }

// RunStatic reads the worker's class, sends the image and collects the
// detections for that one class. The connection is closed on return.
func (s *Session) RunStatic() (*model.SessionResult, error) {
	defer s.conn.Close()

	s.transition(StateAwaitClassID)
	s.readDeadline(s.timeouts.IO)
	class, err := protocol.ReadClassID(s.conn)
	if err != nil {
		return nil, s.fail(err)
	}
	s.assignment = model.NewAssignment(class)
	s.logger.Info("Worker %s detects %s", s.conn.RemoteAddr(), class)

	s.transition(StateSendImage)
	if err := s.sendFrame(s.image); err != nil {
		return nil, s.fail(err)
	}

	s.transition(StateAwaitResult)
	s.readDeadline(s.timeouts.Result)
	raw, err := protocol.ReadReply(s.conn, s.framed)
	if err != nil {
		return nil, s.fail(err)
	}
	dets, err := protocol.DecodeDetections(raw)
	if err != nil {
		return nil, s.fail(err)
	}

	return s.finish(map[model.ClassID][]model.Detection{class: dets}), nil
}

// RunDynamic offers work to the worker and, if it accepts and classes are
// still left when its ticket's turn comes, sends the assignment and image and
// collects the per-class result. The ticket is released on every path.
// A declined session returns a nil result and a nil error.
func (s *Session) RunDynamic(ticket *Ticket) (*model.SessionResult, error) {
	defer s.conn.Close()
	defer ticket.Release()

	s.transition(StateOfferAvailability)
	probe, err := protocol.EncodeProbe()
	if err != nil {
		return nil, s.fail(err)
	}
	if err := s.send(func() error { return protocol.WriteRaw(s.conn, probe) }); err != nil {
		return nil, s.fail(err)
	}

	s.transition(StateAwaitAvailability)
	s.readDeadline(s.timeouts.Availability)
	reply, err := protocol.ReadRaw(s.conn)
	if err != nil {
		return nil, s.fail(err)
	}
	if !protocol.IsAffirmative(reply) {
		s.logger.Info("Worker %s declined (%q)", s.conn.RemoteAddr(), string(reply))
		ticket.Release()
		s.transition(StateDecline)
		return nil, nil
	}

	assignment := ticket.Allocate()
	if len(assignment) == 0 {
		s.logger.Info("Worker %s is available but no classes are left", s.conn.RemoteAddr())
		s.transition(StateDecline)
		return nil, nil
	}
	s.assignment = assignment

	s.transition(StateAssign)
	payload, err := protocol.EncodeAssignment(assignment)
	if err != nil {
		return nil, s.fail(err)
	}
	if err := s.sendFrame(payload); err != nil {
		return nil, s.fail(err)
	}
	if err := s.sendFrame(s.image); err != nil {
		return nil, s.fail(err)
	}

	s.transition(StateAwaitResult)
	s.readDeadline(s.timeouts.Result)
	raw, err := protocol.ReadReply(s.conn, s.framed)
	if err != nil {
		return nil, s.fail(err)
	}
	result, err := protocol.DecodeResult(raw)
	if err != nil {
		return nil, s.fail(err)
	}

	detections := make(map[model.ClassID][]model.Detection, len(assignment))
	for _, class := range assignment {
		detections[class] = []model.Detection{}
	}
	for class, dets := range result {
		if !assignment.Contains(class) {
			s.logger.Warning("Dropping %d detection(s) for unassigned class %s", len(dets), class)
			continue
		}
		detections[class] = append(detections[class], dets...)
	}

	return s.finish(detections), nil
}

func (s *Session) finish(detections map[model.ClassID][]model.Detection) *model.SessionResult {
	total := 0
	for _, dets := range detections {
		total += len(dets)
	}
	s.logger.Info("Received %d detection(s) for %v", total, s.assignment)
	s.transition(StateDone)

	return &model.SessionResult{
		SessionID:  s.id,
		WorkerAddr: s.conn.RemoteAddr().String(),
		Assignment: s.assignment,
		Detections: detections,
		FinishedAt: time.Now(),
	}
}

func (s *Session) sendFrame(payload []byte) error {
	return s.send(func() error { return protocol.WriteFramed(s.conn, payload) })
}

func (s *Session) send(write func() error) error {
	if s.timeouts.IO > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.timeouts.IO))
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	if err := write(); err != nil {
		if protocol.IsTimeout(err) {
			return fmt.Errorf("%w: %v", protocol.ErrTimeout, err)
		}
		return err
	}
	return nil
}

func (s *Session) readDeadline(d time.Duration) {
	if d > 0 {
		s.conn.SetReadDeadline(time.Now().Add(d))
	} else {
		s.conn.SetReadDeadline(time.Time{})
	}
}

func (s *Session) fail(err error) error {
	serr := &protocol.SessionError{Session: s.id, State: string(s.state), Err: err}
	s.logger.Error("Failed in %s: %v", s.state, err)
	s.emit(StateFailed, err)
	s.state = StateFailed
	return serr
}

func (s *Session) transition(next State) {
	s.state = next
	s.logger.Debug("State %s", next)
	s.emit(next, nil)
}

func (s *Session) emit(state State, err error) {
	if s.observer == nil {
		return
	}
	ev := SessionEvent{
		Session: s.id,
		Worker:  s.conn.RemoteAddr().String(),
		State:   state,
		Classes: s.assignment,
		Time:    time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.observer(ev)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
