package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bobby-s-dev/weather-dashboard/internal/models"
	"go.uber.org/zap"
)

type State string

const (
	StateIdle        State = "idle"
	StateRequesting  State = "requesting"
	StateResolved    State = "resolved"
	StateDenied      State = "denied"
	StateUnavailable State = "unavailable"
)

type ErrorKind string

const (
	PermissionDenied ErrorKind = "permission_denied"
	Unavailable      ErrorKind = "unavailable"
	Timeout          ErrorKind = "timeout"
)

type LocationError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *LocationError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Locator asks the host for its position.
type Locator interface {
	Locate(ctx context.Context) (models.Coordinates, error)
}

type Snapshot struct {
	State       State               `json:"state"`
	Coordinates *models.Coordinates `json:"coordinates"`
	Err         *LocationError      `json:"error"`
	Loading     bool                `json:"loading"`
}

const DefaultTimeout = 10 * time.Second

// Source tracks the device position. Failures are kept as state and never
// returned to readers.
type Source struct {
	mu        sync.Mutex
	locator   Locator
	timeout   time.Duration
	state     State
	coords    *models.Coordinates
	err       *LocationError
	done      chan struct{}
	observers map[int]func(Snapshot)
	nextID    int
	logger    *zap.Logger
}

func NewSource(locator Locator, timeout time.Duration, logger *zap.Logger) *Source {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Source{
		locator:   locator,
		timeout:   timeout,
		state:     StateIdle,
		observers: make(map[int]func(Snapshot)),
		logger:    logger,
	}
}

// Start issues the first position request. It only acts from idle.
func (s *Source) Start() bool {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return false
	}
	notify := s.request()
	s.mu.Unlock()

	notify()
	return true
}

// Retry re-requests the position. It is a no-op while a request is running.
func (s *Source) Retry() bool {
	s.mu.Lock()
	if s.state == StateRequesting {
		s.mu.Unlock()
		return false
	}
	notify := s.request()
	s.mu.Unlock()

	notify()
	return true
}

func (s *Source) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Wait blocks until no request is running or ctx ends.
func (s *Source) Wait(ctx context.Context) Snapshot {
	s.mu.Lock()
	done := s.done
	requesting := s.state == StateRequesting
	s.mu.Unlock()

	if requesting && done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return s.Snapshot()
}

func (s *Source) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// request must be called with s.mu held.
func (s *Source) request() func() {
	s.state = StateRequesting
	s.err = nil
	done := make(chan struct{})
	s.done = done

	go s.run(done)
	return s.prepareNotify()
}

func (s *Source) run(done chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	coords, err := s.locator.Locate(ctx)

	s.mu.Lock()
	if err != nil {
		locErr := classify(err)
		s.err = locErr
		s.coords = nil
		if locErr.Kind == PermissionDenied {
			s.state = StateDenied
		} else {
			s.state = StateUnavailable
		}
		s.logger.Warn("Location request failed",
			zap.String("kind", string(locErr.Kind)),
			zap.String("message", locErr.Message))
	} else {
		c := coords
		s.coords = &c
		s.state = StateResolved
		s.logger.Info("Location resolved",
			zap.Float64("lat", c.Lat),
			zap.Float64("lon", c.Lon))
	}
	close(done)
	notify := s.prepareNotify()
	s.mu.Unlock()

	notify()
}

func (s *Source) snapshot() Snapshot {
	snap := Snapshot{
		State:   s.state,
		Loading: s.state == StateRequesting,
	}
	if s.coords != nil {
		c := *s.coords
		snap.Coordinates = &c
	}
	if s.err != nil {
		e := *s.err
		snap.Err = &e
	}
	return snap
}

func (s *Source) prepareNotify() func() {
	if len(s.observers) == 0 {
		return func() {}
	}
	snap := s.snapshot()
	observers := make([]func(Snapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	return func() {
		for _, fn := range observers {
			fn(snap)
		}
	}
}

func classify(err error) *LocationError {
	var locErr *LocationError
	if errors.As(err, &locErr) {
		return locErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &LocationError{Kind: Timeout, Message: "location request timed out"}
	}
	return &LocationError{Kind: Unavailable, Message: err.Error()}
}
