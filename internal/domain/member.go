package domain

// Participant is a user's state inside one call.
// No transport or lifecycle logic here.
type Participant struct {
	UserID       UserID `json:"userId"`
	SessionID    string `json:"-"`
	Joined       bool   `json:"joined"`
	Muted        bool   `json:"muted"`
	VideoEnabled bool   `json:"videoEnabled"`
}

// NewParticipant avoids raw literals and keeps construction obvious.
func NewParticipant(user UserID, kind MediaKind) *Participant {
	return &Participant{UserID: user, VideoEnabled: kind == MediaVideo}
}
