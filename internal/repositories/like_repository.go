package repositories

import (
	"github.com/anonto42/instaverse/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LikeRepository defines the interface for like data operations
type LikeRepository interface {
	ToggleLike(postID string, userID uint) (liked, changed bool, err error)
	GetLikerIDsByPostID(postID string) ([]uint, error)
	GetLikesCountByPostID(postID string) (int64, error)
	HasUserLikedPost(postID string, userID uint) (bool, error)
}

// PostgresLikeRepository implements LikeRepository for PostgreSQL
type PostgresLikeRepository struct {
	db *gorm.DB
}

// NewPostgresLikeRepository creates a new PostgresLikeRepository
func NewPostgresLikeRepository(db *gorm.DB) *PostgresLikeRepository {
	return &PostgresLikeRepository{db: db}
}

// ToggleLike removes the user's like when present and adds it otherwise.
// changed is false when a concurrent request already added the same like; the
// like then exists but this call did not create it.
func (r *PostgresLikeRepository) ToggleLike(postID string, userID uint) (liked, changed bool, err error) {
	err = r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("post_id = ? AND user_id = ?", postID, userID).Delete(&models.Like{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			liked, changed = false, true
			return nil
		}

		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Like{PostID: postID, UserID: userID})
		if res.Error != nil {
			return res.Error
		}
		liked, changed = true, res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, false, err
	}
	return liked, changed, nil
}

// GetLikerIDsByPostID returns the IDs of the users who liked a post, oldest first
func (r *PostgresLikeRepository) GetLikerIDsByPostID(postID string) ([]uint, error) {
	var ids []uint
	if err := r.db.Model(&models.Like{}).Where("post_id = ?", postID).Order("created_at ASC").Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// GetLikesCountByPostID retrieves the count of likes for a specific post from PostgreSQL
func (r *PostgresLikeRepository) GetLikesCountByPostID(postID string) (int64, error) {
	var count int64
	if err := r.db.Model(&models.Like{}).Where("post_id = ?", postID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// HasUserLikedPost checks if a user has liked a specific post
func (r *PostgresLikeRepository) HasUserLikedPost(postID string, userID uint) (bool, error) {
	var count int64
	if err := r.db.Model(&models.Like{}).Where("post_id = ? AND user_id = ?", postID, userID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
