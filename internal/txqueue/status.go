package txqueue

// Status is a parcel's lifecycle stage.
type Status string

const (
	StatusIdle         Status = "IDLE"
	StatusPreparing    Status = "PREPARING"
	StatusReadyToSign  Status = "READY_TO_SIGN"
	StatusSigning      Status = "SIGNING"
	StatusSigned       Status = "SIGNED"
	StatusBroadcasting Status = "BROADCASTING"
	StatusBroadcasted  Status = "BROADCASTED"
	StatusConfirmed    Status = "CONFIRMED"
	StatusFailed       Status = "FAILED"
)

var statusRank = map[Status]int{
	StatusIdle:         0,
	StatusPreparing:    1,
	StatusReadyToSign:  2,
	StatusSigning:      3,
	StatusSigned:       4,
	StatusBroadcasting: 5,
	StatusBroadcasted:  6,
	StatusConfirmed:    7,
}

// AtLeast reports whether s has reached other along the forward path.
// FAILED is off the path and only compares equal to itself.
func (s Status) AtLeast(other Status) bool {
	if s == StatusFailed || other == StatusFailed {
		return s == other
	}
	return statusRank[s] >= statusRank[other]
}

// Active reports whether a parcel in this status is in flight.
func (s Status) Active() bool {
	switch s {
	case StatusPreparing, StatusReadyToSign, StatusSigning, StatusSigned, StatusBroadcasting, StatusBroadcasted:
		return true
	}
	return false
}
