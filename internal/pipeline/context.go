package pipeline

import (
	"time"

	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/tags"
)

// SessionContext is the per-device state that lives from session start to
// session end. Only the session goroutine touches it.
type SessionContext struct {
	DeviceID   string
	LoginID    string
	Generation uint64
	Tags       tags.Set

	// Zones are the tag-matched zones whose boundary parsed.
	Zones []domain.ZoneDefinition

	// AlertActive is set while an overspeed alert raised by this session is
	// showing.
	AlertActive bool

	LastArchived time.Time
}

func NewSessionContext(deviceID, loginID string) *SessionContext {
	return &SessionContext{
		DeviceID: deviceID,
		LoginID:  loginID,
		Tags:     tags.NewSet(),
	}
}

func (sc *SessionContext) Origin(at time.Time) domain.Origin {
	return domain.Origin{DeviceID: sc.DeviceID, LoginID: sc.LoginID, At: at}
}

func (sc *SessionContext) HasLogin() bool {
	return sc.LoginID != ""
}
