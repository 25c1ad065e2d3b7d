package order

// Status is the workflow state of an order.
type Status string

const (
	StatusCreated   Status = "created"
	StatusConfirmed Status = "confirmed"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusFulfilled Status = "fulfilled"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusCreated:   {StatusConfirmed, StatusPaid, StatusCancelled},
	StatusConfirmed: {StatusPaid, StatusShipped, StatusCancelled},
	StatusPaid:      {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusFulfilled},
	StatusFulfilled: nil,
	StatusCancelled: nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransitionTo reports whether next may follow s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
