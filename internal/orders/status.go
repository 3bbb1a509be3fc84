package orders

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusReserved Status = "RESERVED"
	StatusPaid     Status = "PAID"
	StatusCanceled Status = "CANCELED"
	StatusFailed   Status = "FAILED"
	StatusExpired  Status = "EXPIRED"
)

// PENDING exists only between validation and reservation; creation persists
// orders directly as RESERVED, so RESERVED is the only live state on disk.
var validNext = map[Status]map[Status]bool{
	StatusPending:  {StatusReserved: true, StatusFailed: true},
	StatusReserved: {StatusPaid: true, StatusCanceled: true, StatusFailed: true, StatusExpired: true},
	StatusPaid:     {},
	StatusCanceled: {},
	StatusFailed:   {},
	StatusExpired:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	switch s {
	case StatusPaid, StatusCanceled, StatusFailed, StatusExpired:
		return true
	}
	return false
}
