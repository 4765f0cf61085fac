package program

// Stack is the pending compile queue of template indices. Pop returns the
// most recently pushed index first, so freshly created geometry compiles
// ahead of older templates during incremental edits.
type Stack struct {
	items []int
}

// Push queues idx.
func (s *Stack) Push(idx ...int) {
	s.items = append(s.items, idx...)
}

// Pop removes and returns the most recently pushed index.
func (s *Stack) Pop() (int, bool) {
	if len(s.items) == 0 {
		return 0, false
	}
	last := len(s.items) - 1
	idx := s.items[last]
	s.items = s.items[:last]
	return idx, true
}

// Len returns the number of queued indices.
func (s *Stack) Len() int {
	return len(s.items)
}

// Clear drops every queued index.
func (s *Stack) Clear() {
	s.items = nil
}
