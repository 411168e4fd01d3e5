package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/anonto42/instaverse/backend/internal/notifier"
	"github.com/anonto42/instaverse/backend/internal/repositories"
	"github.com/labstack/echo/v4"
)

// LikeNotifier is told about every successful like toggle.
type LikeNotifier interface {
	NotifyLike(ctx context.Context, ev notifier.LikeEvent) notifier.PublishOutcome
}

// LikeHandler handles HTTP requests related to likes
type LikeHandler struct {
	likeRepository repositories.LikeRepository
	postRepository repositories.PostRepository
	userRepository repositories.UserRepository
	notifier       LikeNotifier
	logger         *slog.Logger
}

// NewLikeHandler creates a new LikeHandler
func NewLikeHandler(likeRepo repositories.LikeRepository, postRepo repositories.PostRepository, userRepo repositories.UserRepository, likeNotifier LikeNotifier, logger *slog.Logger) *LikeHandler {
	return &LikeHandler{
		likeRepository: likeRepo,
		postRepository: postRepo,
		userRepository: userRepo,
		notifier:       likeNotifier,
		logger:         logger,
	}
}

// RegisterLikeRoutes registers like-related routes
func (h *LikeHandler) RegisterLikeRoutes(g *echo.Group) {
	g.PATCH("/stories/:id/likeStory", h.ToggleLike)
	g.GET("/stories/:id/likes/count", h.GetLikesCountForPost)
	g.GET("/stories/:id/likes/status", h.GetUserLikeStatusForPost)
}

// ToggleLike likes the story when the user has not liked it yet and unlikes
// it otherwise. A new like notifies the story owner.
func (h *LikeHandler) ToggleLike(c echo.Context) error {
	ctx := c.Request().Context()
	postID := c.Param("id")

	post, err := h.postRepository.GetPostByID(ctx, postID)
	if err != nil {
		if errors.Is(err, repositories.ErrPostNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Story not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	user, err := currentUser(c, h.userRepository)
	if err != nil {
		return err
	}

	liked, changed, err := h.likeRepository.ToggleLike(postID, user.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// unchanged means a concurrent request created this like and did the follow-up
	if changed {
		delta := -1
		if liked {
			delta = 1
		}
		if err := h.postRepository.AdjustLikesCount(ctx, postID, delta); err != nil {
			h.logger.Warn("failed to update likes counter", slog.String("post_id", postID), slog.Any("error", err))
		}

		h.notifier.NotifyLike(ctx, notifier.LikeEvent{
			PostID:          postID,
			RecipientUserID: strconv.FormatUint(uint64(post.UserID), 10),
			ActorUserID:     strconv.FormatUint(uint64(user.ID), 10),
			ActorUsername:   user.DisplayName(),
			PostTitle:       post.Title(),
			WasLiked:        liked,
		})
	}

	likes, err := h.likeRepository.GetLikerIDsByPostID(postID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if likes == nil {
		likes = []uint{}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"_id":      post.ID.Hex(),
		"caption":  post.Caption,
		"userId":   post.UserID,
		"username": post.Username,
		"likes":    likes,
		"liked":    liked,
	})
}

// GetLikesCountForPost retrieves the total number of likes for a specific story
func (h *LikeHandler) GetLikesCountForPost(c echo.Context) error {
	postID := c.Param("id")

	if _, err := h.postRepository.GetPostByID(c.Request().Context(), postID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Story not found")
	}

	count, err := h.likeRepository.GetLikesCountByPostID(postID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, echo.Map{"post_id": postID, "likes_count": count})
}

// GetUserLikeStatusForPost checks if the authenticated user has liked a specific story
func (h *LikeHandler) GetUserLikeStatusForPost(c echo.Context) error {
	postID := c.Param("id")

	if _, err := h.postRepository.GetPostByID(c.Request().Context(), postID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Story not found")
	}

	user, err := currentUser(c, h.userRepository)
	if err != nil {
		return err
	}

	hasLiked, err := h.likeRepository.HasUserLikedPost(postID, user.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, echo.Map{"post_id": postID, "user_id": user.ID, "has_liked": hasLiked})
}
