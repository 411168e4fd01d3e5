package models

import "time"

// Like represents a like on a story (PostgreSQL). A user likes a story at most once.
type Like struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	PostID    string    `json:"post_id" gorm:"size:24;uniqueIndex:idx_likes_post_user"` // MongoDB ObjectID as hex
	UserID    uint      `json:"user_id" gorm:"uniqueIndex:idx_likes_post_user"`
	CreatedAt time.Time `json:"created_at"`
}
