package store

type Availability string

const (
	AvailabilityFree Availability = "free"
	AvailabilityBusy Availability = "busy"
	AvailabilityDND  Availability = "dnd"
)

func (a Availability) Valid() bool {
	switch a {
	case AvailabilityFree, AvailabilityBusy, AvailabilityDND:
		return true
	default:
		return false
	}
}

// Practice is keyed by its uppercase code. Timestamps are epoch milliseconds.
type Practice struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	PassHash  string `json:"passHash,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// PracticePatch is a field-level merge; nil fields are left untouched.
type PracticePatch struct {
	Name      *string
	PassHash  *string
	CreatedAt *int64
}

// Member is one identity's presence record inside a practice.
type Member struct {
	UID          string       `json:"uid"`
	PracticeCode string       `json:"practiceCode"`
	DisplayName  string       `json:"displayName"`
	Role         string       `json:"role"`
	Availability Availability `json:"availability"`
	Activity     string       `json:"activity"`
	Location     string       `json:"location"`
	Note         string       `json:"note"`
	LastActive   int64        `json:"lastActive"`
}

// MemberPatch is a field-level merge. Nil fields keep their stored value on
// an existing record and their zero value on a new one.
type MemberPatch struct {
	DisplayName  *string
	Role         *string
	Availability *Availability
	Activity     *string
	Location     *string
	Note         *string
	LastActive   *int64
}

func (p MemberPatch) apply(m Member) Member {
	if p.DisplayName != nil {
		m.DisplayName = *p.DisplayName
	}
	if p.Role != nil {
		m.Role = *p.Role
	}
	if p.Availability != nil {
		m.Availability = *p.Availability
	}
	if p.Activity != nil {
		m.Activity = *p.Activity
	}
	if p.Location != nil {
		m.Location = *p.Location
	}
	if p.Note != nil {
		m.Note = *p.Note
	}
	if p.LastActive != nil {
		m.LastActive = *p.LastActive
	}
	return m
}

func (p PracticePatch) apply(practice Practice) Practice {
	if p.Name != nil {
		practice.Name = *p.Name
	}
	if p.PassHash != nil {
		practice.PassHash = *p.PassHash
	}
	if p.CreatedAt != nil {
		practice.CreatedAt = *p.CreatedAt
	}
	return practice
}

// ActivityEntry is an immutable change-log line. ByName is a snapshot of the
// author's display name at write time.
type ActivityEntry struct {
	ID     string `json:"id"`
	ByUID  string `json:"byUid"`
	ByName string `json:"byName"`
	Change string `json:"change"`
	TS     int64  `json:"ts"`
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}
