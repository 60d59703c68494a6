// Package mutation tracks the lifecycle of a single write request.
package mutation

import "fmt"

// Stage is a step of the mutation lifecycle.
//
//	Received -> Authorized -> Applied -> Acknowledged
//	         \-> Denied      \-> Indexed (asynchronous, after Applied)
type Stage string

// Lifecycle stages.
const (
	Received     Stage = "received"
	Authorized   Stage = "authorized"
	Denied       Stage = "denied"
	Applied      Stage = "applied"
	Indexed      Stage = "indexed"
	Acknowledged Stage = "acknowledged"
	Failed       Stage = "failed"
)

var transitions = map[Stage][]Stage{
	Received:   {Authorized, Denied, Failed},
	Authorized: {Applied, Failed},
	Applied:    {Acknowledged, Indexed},
	Indexed:    {Acknowledged},
}

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool { return len(transitions[s]) == 0 }

// Tracker records the stages one mutation has passed through.
type Tracker struct {
	op      string
	current Stage
	history []Stage
	observe func(op string, s Stage)
}

// Start creates a tracker in the Received stage. observe, if non-nil, is
// called for every stage entered.
func Start(op string, observe func(op string, s Stage)) *Tracker {
	t := &Tracker{op: op, current: Received, history: []Stage{Received}, observe: observe}
	if observe != nil {
		observe(op, Received)
	}
	return t
}

// Advance moves the tracker to next. An illegal transition is a programming
// error and is reported, leaving the tracker unchanged.
func (t *Tracker) Advance(next Stage) error {
	for _, allowed := range transitions[t.current] {
		if allowed == next {
			t.current = next
			t.history = append(t.history, next)
			if t.observe != nil {
				t.observe(t.op, next)
			}
			return nil
		}
	}
	return fmt.Errorf("mutation %s: illegal transition %s -> %s", t.op, t.current, next)
}

// Op returns the operation name.
func (t *Tracker) Op() string { return t.op }

// Current returns the latest stage.
func (t *Tracker) Current() Stage { return t.current }

// History returns the stages in order of entry.
func (t *Tracker) History() []Stage { return append([]Stage(nil), t.history...) }
