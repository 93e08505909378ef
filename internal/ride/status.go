package ride

// Status represents the lifecycle state of a single ride.
type Status string

const (
	StatusRequested      Status = "REQUESTED"
	StatusSearching      Status = "SEARCHING"
	StatusAccepted       Status = "ACCEPTED"
	StatusDriverArriving Status = "DRIVER_ARRIVING"
	StatusArrived        Status = "ARRIVED"
	StatusInProgress     Status = "IN_PROGRESS"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

// String returns string representation of status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks if status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusRequested, StatusSearching, StatusAccepted, StatusDriverArriving,
		StatusArrived, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal checks if no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// allowedTransitions is the strict lifecycle table. Anything outside it is an
// out-of-order or stale push from the relay and must be dropped.
var allowedTransitions = map[Status][]Status{
	StatusRequested:      {StatusSearching, StatusCancelled},
	StatusSearching:      {StatusAccepted, StatusCancelled},
	StatusAccepted:       {StatusDriverArriving, StatusCancelled},
	StatusDriverArriving: {StatusArrived, StatusCancelled},
	StatusArrived:        {StatusInProgress, StatusCancelled},
	StatusInProgress:     {StatusCompleted, StatusCancelled},
	StatusCompleted:      {},
	StatusCancelled:      {},
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle step.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AcceptsLocation reports whether driver location updates are meaningful in
// this status. Outside this range a location fix is stale data from a
// previous ride.
func (s Status) AcceptsLocation() bool {
	switch s {
	case StatusAccepted, StatusDriverArriving, StatusArrived, StatusInProgress:
		return true
	}
	return false
}
