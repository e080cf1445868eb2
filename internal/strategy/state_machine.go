package strategy

import "sync"

// StateMachine walks the cycle phases in order. There is no terminal state:
// SLEEP leads back to FETCH_PRICE.
type StateMachine struct {
	mu    sync.Mutex
	State State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{State: StateFetchPrice}
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = nextState(s.State, event)
	return s.State
}

// Reset puts the machine back at the start of a cycle.
func (s *StateMachine) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateFetchPrice
}

func (s *StateMachine) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

func nextState(current State, event Event) State {
	if event == EventFailed {
		return StateSleep
	}
	if event != EventStepDone {
		return current
	}
	switch current {
	case StateFetchPrice:
		return StateCancelOpenOrders
	case StateCancelOpenOrders:
		return StateFetchBalances
	case StateFetchBalances:
		return StateEvaluateBuy
	case StateEvaluateBuy:
		return StateEvaluateSell
	case StateEvaluateSell:
		return StateSleep
	case StateSleep:
		return StateFetchPrice
	}
	return current
}
