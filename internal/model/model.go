// Package model defines domain entities used by services and repositories.
package model

import "time"

// Date and clock-time layouts used everywhere an Event is persisted or
// published. These are wire-compatible with the original site data.
const (
	DateLayout = "2006-01-02" // YYYY-MM-DD
	TimeLayout = "15:04"      // HH:MM, local
)

// EventType distinguishes regular gatherings from special one-offs.
type EventType string

const (
	EventRegular EventType = "regular"
	EventSpecial EventType = "special"
)

// Frequency is the only recurrence cadence the site supports.
const FrequencyWeekly = "weekly"

// Recurrence describes a weekly repeating schedule. Present iff the event
// is permanent.
type Recurrence struct {
	// DayOfWeek follows time.Weekday numbering: 0 = Sunday .. 6 = Saturday.
	DayOfWeek int    `json:"dayOfWeek"`
	Frequency string `json:"frequency"`
}

// Event is a single calendar entry as stored in the remote store and
// published to clients. Field names and the date/time text formats are
// persisted-state compatible with the original site.
type Event struct {
	// ID is assigned by the remote store on creation and immutable after.
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Time        string      `json:"time"` // HH:MM
	Date        string      `json:"date"` // YYYY-MM-DD, may be empty
	ImageURL    string      `json:"imageUrl"`
	Type        EventType   `json:"type"`
	IsPermanent bool        `json:"isPermanent"`
	Recurrence  *Recurrence `json:"recurrence,omitempty"`
}

// Recurring reports whether the event carries a well-formed weekly recurrence.
func (e *Event) Recurring() bool {
	return e.IsPermanent && e.Recurrence != nil
}

// StartsAt parses the event's date+time in the given location.
// Returns false when either part is missing or malformed.
func (e *Event) StartsAt(loc *time.Location) (time.Time, bool) {
	if e.Date == "" || e.Time == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, e.Date+" "+e.Time, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Role gates administrative mutations on the HTTP surface.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is an account record stored under users/<uid>.
type User struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	PwdHash   []byte    `json:"pwdHash"`
	SaltAuth  []byte    `json:"saltAuth"`
	CreatedAt time.Time `json:"createdAt"`
}

// Identity is the authenticated caller as seen by handlers and services.
type Identity struct {
	UID  string
	Role Role
}

// Admin reports whether the identity may perform event mutations.
func (id Identity) Admin() bool { return id.Role == RoleAdmin }

// VerificationCode is the signup verification record stored under
// verificationCodes/<uid>. Delivery of the code is outside this service.
type VerificationCode struct {
	Code      string    `json:"code"`
	Email     string    `json:"email"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
}
