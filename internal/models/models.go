package models

import "time"

// MomentStatus is the lifecycle state of a Moment.
type MomentStatus string

const (
	// MomentPendingPartner is the sole initial state: the initiator has
	// captured their image and is waiting for the partner.
	MomentPendingPartner MomentStatus = "PENDING_PARTNER"
	// MomentCompleted means the partner completed in time and the combined
	// image exists. Terminal.
	MomentCompleted MomentStatus = "COMPLETED"
	// MomentFailed means a completion attempt arrived past the deadline. Terminal.
	MomentFailed MomentStatus = "FAILED"
	// MomentExpired means the sweeper finalized a timed-out pending Moment. Terminal.
	MomentExpired MomentStatus = "EXPIRED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s MomentStatus) Terminal() bool {
	return s == MomentCompleted || s == MomentFailed || s == MomentExpired
}

// User represents a user in the system
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	Token     string    `json:"token,omitempty"`
	PushToken *string   `json:"push_token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Public returns the profile fields safe to show to the partner.
func (u *User) Public() *PublicUser {
	return &PublicUser{ID: u.ID, Name: u.Name}
}

// PublicUser is the subset of User exposed in events and Moment payloads.
type PublicUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Couple represents a pairing of exactly two users sharing memory data
type Couple struct {
	ID        string    `json:"id"`
	UserAID   string    `json:"user_a_id"`
	UserBID   string    `json:"user_b_id"`
	CreatedAt time.Time `json:"created_at"`
}

// HasMember reports whether userID is one of the two members.
func (c *Couple) HasMember(userID string) bool {
	return c.UserAID == userID || c.UserBID == userID
}

// PartnerOf returns the other member's ID, or "" if userID is not a member.
func (c *Couple) PartnerOf(userID string) string {
	switch userID {
	case c.UserAID:
		return c.UserBID
	case c.UserBID:
		return c.UserAID
	}
	return ""
}

// Memory is a shared memory a Moment may augment
type Memory struct {
	ID          string    `json:"id"`
	CoupleID    string    `json:"couple_id"`
	AuthorID    string    `json:"author_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Moment is a time-boxed two-party synchronized photo capture.
//
// Image fields hold opaque object-store keys, not raw bytes; each is set
// exactly once, in the order initiator -> partner -> combined.
// CombinedImage is populated if and only if Status == COMPLETED.
type Moment struct {
	ID             string       `json:"id"`
	CoupleID       string       `json:"couple_id"`
	InitiatorID    string       `json:"initiator_id"`
	ParticipantID  *string      `json:"participant_id,omitempty"`
	MemoryID       *string      `json:"memory_id,omitempty"`
	InitiatorImage string       `json:"initiator_image"`
	PartnerImage   *string      `json:"partner_image,omitempty"`
	CombinedImage  *string      `json:"combined_image,omitempty"`
	Status         MomentStatus `json:"status"`
	ExpiresAt      time.Time    `json:"expires_at"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Expired reports whether the Moment's completion deadline has passed.
// The deadline is fixed at creation and never extended.
func (m *Moment) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}
