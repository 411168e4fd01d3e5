package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Post represents a story stored in MongoDB
type Post struct {
	ID         primitive.ObjectID `json:"_id,omitempty" bson:"_id,omitempty"`
	UserID     uint               `json:"userId" bson:"user_id"` // PostgreSQL ID of the owner
	Username   string             `json:"username" bson:"username"`
	Caption    string             `json:"caption" bson:"caption"`
	Category   string             `json:"category,omitempty" bson:"category,omitempty"`
	Device     string             `json:"device,omitempty" bson:"device,omitempty"`
	Image      string             `json:"image,omitempty" bson:"image,omitempty"`
	Tags       []string           `json:"tags,omitempty" bson:"tags,omitempty"`
	LikesCount int                `json:"likes_count" bson:"likes_count"`
	PostDate   time.Time          `json:"postDate" bson:"post_date"`
}

// Title is the caption shown in notifications.
func (p *Post) Title() string {
	if p.Caption == "" {
		return "Untitled Post"
	}
	return p.Caption
}
