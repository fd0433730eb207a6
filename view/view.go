// Package view holds the widget's UI state: which panel is shown, whether
// today's suggestion is done and whether an export just succeeded.
package view

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// View is one of the three panels.
type View string

const (
	Home       View = "home"
	Eliminated View = "eliminated"
	Targets    View = "targets"
)

// ExportNoticeDuration is how long ExportSucceeded stays set.
const ExportNoticeDuration = 3 * time.Second

// Suggestion is today's suggested action.
const Suggestion = "Use a reusable water bottle"

var ErrUnknownView = errors.New("unknown view")

// Item is one habit entry.
type Item struct {
	ID   int
	Text string
	Date string
}

var eliminated = []Item{
	{ID: 1, Text: "Stopped using plastic water bottle", Date: "2/27/25"},
	{ID: 2, Text: "Brought reusable shopping bags", Date: "2/26/25"},
	{ID: 3, Text: "Used bar soap instead of bottled", Date: "2/25/25"},
}

var targets = []Item{
	{ID: 4, Text: "Skip plastic straws", Date: "2/24/25"},
}

// Snapshot is a point-in-time copy of State.
type Snapshot struct {
	View            View
	CompletedToday  bool
	ExportSucceeded bool
}

// State is safe for concurrent use.
type State struct {
	now         func() time.Time
	noticeDelay time.Duration

	mu              sync.Mutex
	view            View
	completedOn     time.Time
	completedToday  bool
	exportSucceeded bool
	exportTimer     *time.Timer
	exportSeq       uint64
}

// Option configures a State.
type Option func(*State)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// WithExportNotice overrides ExportNoticeDuration.
func WithExportNotice(d time.Duration) Option {
	return func(s *State) { s.noticeDelay = d }
}

// New returns state on the home view with nothing completed.
func New(opts ...Option) *State {
	s := &State{
		now:         time.Now,
		noticeDelay: ExportNoticeDuration,
		view:        Home,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select switches the visible panel.
func (s *State) Select(v View) error {
	switch v {
	case Home, Eliminated, Targets:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownView, v)
	}
	s.mu.Lock()
	s.view = v
	s.mu.Unlock()
	return nil
}

// MarkEliminated records today's suggestion as done.
func (s *State) MarkEliminated() {
	s.mu.Lock()
	s.completedToday = true
	s.completedOn = s.now()
	s.mu.Unlock()
}

// Export sets ExportSucceeded and clears it after the notice delay. Exporting
// again restarts the delay.
func (s *State) Export() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.exportSucceeded = true
	s.exportSeq++
	seq := s.exportSeq
	if s.exportTimer != nil {
		s.exportTimer.Stop()
	}
	s.exportTimer = time.AfterFunc(s.noticeDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.exportSeq == seq {
			s.exportSucceeded = false
		}
	})
}

// CheckDayChange clears CompletedToday once the calendar day has moved on
// since it was set. It reports whether anything changed.
func (s *State) CheckDayChange() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.completedToday {
		return false
	}
	now := s.now()
	if sameDay(s.completedOn, now) {
		return false
	}
	s.completedToday = false
	s.completedOn = time.Time{}
	return true
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Snapshot returns the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		View:            s.view,
		CompletedToday:  s.completedToday,
		ExportSucceeded: s.exportSucceeded,
	}
}

// Close stops a pending export timer.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exportTimer != nil {
		s.exportTimer.Stop()
		s.exportTimer = nil
	}
}

// EliminatedItems returns the past accomplishments.
func EliminatedItems() []Item {
	return append([]Item(nil), eliminated...)
}

// TargetItems returns the pending targets.
func TargetItems() []Item {
	return append([]Item(nil), targets...)
}
