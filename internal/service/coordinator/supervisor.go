package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"distdetect/internal/config"
	"distdetect/internal/logger"
	"distdetect/internal/model"
)

// Options configure a supervisor run.
type Options struct {
	Mode            string
	ListenAddress   string
	ExpectedWorkers int
	// AcceptWindow bounds how long new connections are accepted. Zero means
	// static mode waits for every expected worker.
	AcceptWindow  time.Duration
	Timeouts      Timeouts
	MaxSessions   int
	Policy        string
	FramedReplies bool
	// Classes is the class set of a run; empty means every known class.
	Classes []model.ClassID
}

// OptionsFromConfig builds supervisor options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Mode:            cfg.Mode,
		ListenAddress:   cfg.ListenAddress,
		ExpectedWorkers: cfg.ExpectedWorkers,
		AcceptWindow:    cfg.AcceptWindow,
		Timeouts: Timeouts{
			IO:           cfg.IOTimeout,
			Availability: cfg.AvailabilityTimeout,
			Result:       cfg.ResultTimeout,
		},
		MaxSessions:   cfg.MaxSessions,
		Policy:        cfg.Policy,
		FramedReplies: cfg.FramedReplies,
	}
}

// RunReport summarizes one supervisor run.
type RunReport struct {
	Results    []*model.SessionResult
	Sessions   int
	Declined   int
	Failed     int
	Errors     []error
	Unassigned []model.ClassID
	StartedAt  time.Time
	FinishedAt time.Time
}

type outcome struct {
	seq      int
	result   *model.SessionResult
	err      error
	declined bool
}

// Supervisor accepts worker connections and runs one session per connection.
type Supervisor struct {
	opts     Options
	observer Observer
	logger   *logger.Logger
	listener net.Listener
}

// NewSupervisor creates a supervisor. observer may be nil.
func NewSupervisor(opts Options, observer Observer, logger *logger.Logger) *Supervisor {
	if opts.ExpectedWorkers <= 0 {
		opts.ExpectedWorkers = len(model.AllClasses())
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = opts.ExpectedWorkers
	}
	if len(opts.Classes) == 0 {
		opts.Classes = model.AllClasses()
	}
	return &Supervisor{opts: opts, observer: observer, logger: logger}
}

// Listen binds the listening endpoint. Run calls it when needed.
func (s *Supervisor) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.ListenAddress, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Supervisor) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Classes returns the class set of the run.
func (s *Supervisor) Classes() []model.ClassID {
	return append([]model.ClassID{}, s.opts.Classes...)
}

// Run accepts workers, waits until every started session is done and returns
// the completed results. Session failures are recorded in the report and
// never abort the run. Cancelling ctx closes every open connection.
func (s *Supervisor) Run(ctx context.Context, image []byte) (*RunReport, error) {
	var alloc *Allocator
	switch s.opts.Mode {
	case config.ModeStatic:
	case config.ModeDynamic:
		var err error
		if alloc, err = NewAllocator(s.opts.Policy, s.opts.Classes, s.opts.ExpectedWorkers); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown mode %q", s.opts.Mode)
	}

	if err := s.Listen(); err != nil {
		return nil, err
	}
	ln := s.listener
	defer func() {
		ln.Close()
		s.listener = nil
	}()

	report := &RunReport{StartedAt: time.Now()}
	s.logger.Info("Coordinator listening on %s (%s mode)", ln.Addr(), s.opts.Mode)

	acceptCtx, stopAccepting := context.WithCancel(ctx)
	defer stopAccepting()
	if s.opts.AcceptWindow > 0 {
		var cancel context.CancelFunc
		acceptCtx, cancel = context.WithTimeout(acceptCtx, s.opts.AcceptWindow)
		defer cancel()
	}
	stopListener := context.AfterFunc(acceptCtx, func() { ln.Close() })
	defer stopListener()

	if alloc != nil {
		go func() {
			select {
			case <-alloc.Exhausted():
				s.logger.Info("Every class is assigned, no longer accepting workers")
				stopAccepting()
			case <-acceptCtx.Done():
			}
		}()
	}

	// Only the collector touches completed outcomes.
	outcomes := make(chan outcome)
	collected := make(chan []outcome)
	go func() {
		var done []outcome
		for o := range outcomes {
			done = append(done, o)
		}
		collected <- done
	}()

	sessions := pool.New().WithMaxGoroutines(s.opts.MaxSessions)
	for s.opts.Mode != config.ModeStatic || report.Sessions < s.opts.ExpectedWorkers {
		conn, err := ln.Accept()
		if err != nil {
			if acceptCtx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Error("Accept failed: %v", err)
			}
			break
		}
		report.Sessions++
		seq := report.Sessions

		session := NewSession(uuid.NewString(), conn, image, s.opts.Timeouts, s.opts.FramedReplies, s.observer, s.logger)
		s.logger.Info("Worker %s connected (%d)", conn.RemoteAddr(), report.Sessions)

		// Dynamic workers get classes in the order they connected.
		var ticket *Ticket
		if alloc != nil {
			ticket = alloc.Ticket()
		}

		sessions.Go(func() {
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			defer stop()
			if ticket != nil {
				defer ticket.Release()
			}

			o := outcome{seq: seq}
			var pc panics.Catcher
			pc.Try(func() {
				if ticket != nil {
					o.result, o.err = session.RunDynamic(ticket)
				} else {
					o.result, o.err = session.RunStatic()
				}
			})
			if r := pc.Recovered(); r != nil {
				conn.Close()
				o = outcome{seq: seq, err: fmt.Errorf("session %s panicked: %w", session.ID(), r.AsError())}
			}
			o.declined = o.err == nil && o.result == nil
			outcomes <- o
		})
	}
	stopAccepting()

	if s.opts.Mode == config.ModeStatic && report.Sessions < s.opts.ExpectedWorkers {
		s.logger.Warning("Only %d of %d workers connected", report.Sessions, s.opts.ExpectedWorkers)
	}

	sessions.Wait()
	close(outcomes)

	done := <-collected
	sort.Slice(done, func(i, j int) bool { return done[i].seq < done[j].seq })
	for _, o := range done {
		switch {
		case o.err != nil:
			report.Failed++
			report.Errors = append(report.Errors, o.err)
		case o.declined:
			report.Declined++
		default:
			report.Results = append(report.Results, o.result)
		}
	}

	if alloc != nil {
		report.Unassigned = alloc.Remaining()
	}
	report.FinishedAt = time.Now()
	s.logger.Info("Run finished: %d session(s), %d completed, %d declined, %d failed",
		report.Sessions, len(report.Results), report.Declined, report.Failed)

	if err := ctx.Err(); err != nil && len(report.Results) == 0 {
		return report, err
	}
	return report, nil
}
