package budget

import "github.com/aceteam-ai/opencorp/internal/config"

// Status is the graduated spending state for the current day.
type Status string

const (
	StatusNormal    Status = "normal"
	StatusCaution   Status = "caution"
	StatusAusterity Status = "austerity"
	StatusCritical  Status = "critical"
	StatusFrozen    Status = "frozen"
)

// Blocking reports whether the status rejects new billable calls.
func (s Status) Blocking() bool {
	return s == StatusCritical || s == StatusFrozen
}

// StatusFor maps spent against limit onto a status. A limit of zero or less
// is always frozen.
func StatusFor(spent, limit float64, t config.Thresholds) Status {
	if limit <= 0 {
		return StatusFrozen
	}
	ratio := spent / limit
	switch {
	case ratio >= t.Frozen:
		return StatusFrozen
	case ratio >= t.Critical:
		return StatusCritical
	case ratio >= t.Austerity:
		return StatusAusterity
	case ratio >= t.Caution:
		return StatusCaution
	default:
		return StatusNormal
	}
}
