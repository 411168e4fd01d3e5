package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType identifies the social action a notification reports.
type NotificationType string

const (
	// NotificationTypeLike is sent to a story owner when another user likes it.
	NotificationTypeLike NotificationType = "LIKE"
)

// LikeNotification is the message carried on the notifications queue and
// pushed to the recipient's stream. The JSON names are the ones the web and
// mobile clients already read.
type LikeNotification struct {
	ID              string           `json:"id,omitempty"`
	Type            NotificationType `json:"type" validate:"required,oneof=LIKE"`
	PostID          string           `json:"postId" validate:"required"`
	RecipientUserID string           `json:"userId" validate:"required"`
	ActorUserID     string           `json:"likedBy" validate:"required,nefield=RecipientUserID"`
	ActorUsername   string           `json:"username"`
	PostTitle       string           `json:"postTitle"`
	CreatedAt       time.Time        `json:"createdAt,omitzero"`
}

// UnmarshalJSON also accepts the identifiers as JSON numbers, which is how
// producers backed by integer user keys send them.
func (n *LikeNotification) UnmarshalJSON(data []byte) error {
	type plain LikeNotification
	aux := struct {
		*plain
		PostID          idString `json:"postId"`
		RecipientUserID idString `json:"userId"`
		ActorUserID     idString `json:"likedBy"`
	}{plain: (*plain)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	n.PostID = string(aux.PostID)
	n.RecipientUserID = string(aux.RecipientUserID)
	n.ActorUserID = string(aux.ActorUserID)
	return nil
}

// idString decodes a JSON string or number into its text form.
type idString string

func (s *idString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		return nil
	case len(data) > 0 && data[0] == '"':
		return json.Unmarshal(data, (*string)(s))
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*s = idString(num.String())
	return nil
}
