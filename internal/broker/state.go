package broker

import (
	"fmt"
	"slices"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

// transitions lists the allowed successors of every state.
var transitions = map[core.State][]core.State{
	core.StateReceived:  {core.StateVerifying, core.StateNoMatch},
	core.StateVerifying: {core.StateVerified, core.StateVerifyFailed},
	core.StateVerified:  {core.StateMatching},
	core.StateMatching:  {core.StateMatched, core.StateNoMatch},
	core.StateMatched:   {core.StateIssuing},
	core.StateIssuing:   {core.StateIssued, core.StateIssueFailed},
	core.StateIssued:    {core.StateDecided},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to core.State) bool {
	return slices.Contains(transitions[from], to)
}

// machine tracks the state of one request.
type machine struct {
	state   core.State
	history []core.State
}

func newMachine() *machine {
	return &machine{
		state:   core.StateReceived,
		history: []core.State{core.StateReceived},
	}
}

// to moves to the next state. An illegal transition is a bug in the broker.
func (m *machine) to(next core.State) {
	if !CanTransition(m.state, next) {
		panic(fmt.Sprintf("broker: illegal state transition %s -> %s", m.state, next))
	}
	m.state = next
	m.history = append(m.history, next)
}
