package verification

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventKind string

const (
	EventGoal         EventKind = "goal"
	EventAssist       EventKind = "assist"
	EventCard         EventKind = "card"
	EventSubstitution EventKind = "substitution"
	EventVoiceNote    EventKind = "voice-note"
	EventPhoto        EventKind = "photo"
)

type EventPayload interface {
	Kind() EventKind
	validate() error
}

type Goal struct {
	PlayerID string `json:"player_id"`
	Team     Side   `json:"team"`
	OwnGoal  bool   `json:"own_goal,omitempty"`
	Penalty  bool   `json:"penalty,omitempty"`
}

type Assist struct {
	PlayerID string `json:"player_id"`
	Team     Side   `json:"team"`
}

type CardColor string

const (
	CardYellow CardColor = "yellow"
	CardRed    CardColor = "red"
)

type Card struct {
	PlayerID string    `json:"player_id"`
	Team     Side      `json:"team"`
	Color    CardColor `json:"color"`
}

type Substitution struct {
	Team      Side   `json:"team"`
	PlayerOut string `json:"player_out"`
	PlayerIn  string `json:"player_in"`
}

type VoiceNote struct {
	URL        string `json:"url"`
	UploadedBy string `json:"uploaded_by"`
	Transcript string `json:"transcript,omitempty"`
}

type Photo struct {
	URL        string `json:"url"`
	UploadedBy string `json:"uploaded_by"`
	Caption    string `json:"caption,omitempty"`
}

func (Goal) Kind() EventKind         { return EventGoal }
func (Assist) Kind() EventKind       { return EventAssist }
func (Card) Kind() EventKind         { return EventCard }
func (Substitution) Kind() EventKind { return EventSubstitution }
func (VoiceNote) Kind() EventKind    { return EventVoiceNote }
func (Photo) Kind() EventKind        { return EventPhoto }

func (p Goal) validate() error {
	return requirePlayer(p.PlayerID, p.Team)
}

func (p Assist) validate() error {
	return requirePlayer(p.PlayerID, p.Team)
}

func (p Card) validate() error {
	if p.Color != CardYellow && p.Color != CardRed {
		return integrity("payload.color", "must be yellow or red")
	}

	return requirePlayer(p.PlayerID, p.Team)
}

func (p Substitution) validate() error {
	switch {
	case !p.Team.Valid():
		return integrity("payload.team", "must be home or away")
	case p.PlayerOut == "" || p.PlayerIn == "":
		return integrity("payload", "needs player_out and player_in")
	}

	return nil
}

func (p VoiceNote) validate() error {
	return requireMedia(p.URL, p.UploadedBy)
}

func (p Photo) validate() error {
	return requireMedia(p.URL, p.UploadedBy)
}

func requirePlayer(playerID string, team Side) error {
	if playerID == "" {
		return integrity("payload.player_id", "is required")
	}

	if !team.Valid() {
		return integrity("payload.team", "must be home or away")
	}

	return nil
}

func requireMedia(url, uploadedBy string) error {
	if url == "" {
		return integrity("payload.url", "is required")
	}

	if uploadedBy == "" {
		return integrity("payload.uploaded_by", "is required")
	}

	return nil
}

type Event struct {
	ID        string
	MatchID   string
	Minute    *int
	Timestamp time.Time
	Payload   EventPayload

	// Metadata carries fields newer clients attach that this service does not
	// interpret yet.
	Metadata json.RawMessage
}

type eventEnvelope struct {
	ID        string          `json:"id"`
	MatchID   string          `json:"match_id"`
	Kind      EventKind       `json:"kind"`
	Minute    *int            `json:"minute,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

func (e Event) Kind() EventKind {
	if e.Payload == nil {
		return ""
	}

	return e.Payload.Kind()
}

func (e Event) Validate() error {
	if e.Payload == nil {
		return integrity("payload", "is required")
	}

	if e.Minute != nil && (*e.Minute < 0 || *e.Minute > 150) {
		return integrity("minute", "must be between 0 and 150")
	}

	if len(e.Metadata) > 0 && !json.Valid(e.Metadata) {
		return integrity("metadata", "must be valid JSON")
	}

	return e.Payload.validate()
}

func (e Event) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	//nolint:wrapcheck
	return json.Marshal(eventEnvelope{
		ID:        e.ID,
		MatchID:   e.MatchID,
		Kind:      e.Kind(),
		Minute:    e.Minute,
		Timestamp: e.Timestamp,
		Payload:   payload,
		Metadata:  e.Metadata,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var envelope eventEnvelope

	err := json.Unmarshal(data, &envelope)
	if err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	payload, err := DecodePayload(envelope.Kind, envelope.Payload)
	if err != nil {
		return err
	}

	*e = Event{
		ID:        envelope.ID,
		MatchID:   envelope.MatchID,
		Minute:    envelope.Minute,
		Timestamp: envelope.Timestamp,
		Payload:   payload,
		Metadata:  envelope.Metadata,
	}

	return nil
}

// DecodePayload parses a raw payload of the given kind into its typed form.
func DecodePayload(kind EventKind, raw json.RawMessage) (EventPayload, error) {
	var payload EventPayload

	switch kind {
	case EventGoal:
		payload = &Goal{}
	case EventAssist:
		payload = &Assist{}
	case EventCard:
		payload = &Card{}
	case EventSubstitution:
		payload = &Substitution{}
	case EventVoiceNote:
		payload = &VoiceNote{}
	case EventPhoto:
		payload = &Photo{}
	default:
		return nil, integrity("kind", fmt.Sprintf("%q is not a known event kind", kind))
	}

	if len(raw) > 0 {
		err := json.Unmarshal(raw, payload)
		if err != nil {
			return nil, integrity("payload", err.Error())
		}
	}

	return deref(payload), nil
}

func deref(payload EventPayload) EventPayload {
	switch p := payload.(type) {
	case *Goal:
		return *p
	case *Assist:
		return *p
	case *Card:
		return *p
	case *Substitution:
		return *p
	case *VoiceNote:
		return *p
	case *Photo:
		return *p
	default:
		return payload
	}
}
