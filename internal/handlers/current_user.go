package handlers

import (
	"errors"
	"net/http"

	"github.com/anonto42/instaverse/backend/internal/middleware"
	"github.com/anonto42/instaverse/backend/internal/models"
	"github.com/anonto42/instaverse/backend/internal/repositories"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// currentUser loads the account identified by whichever auth middleware ran.
func currentUser(c echo.Context, users repositories.UserRepository) (*models.User, error) {
	var (
		user *models.User
		err  error
	)
	switch {
	case c.Get(middleware.ContextUserID) != nil:
		id, _ := c.Get(middleware.ContextUserID).(uint)
		user, err = users.GetUserByID(id)
	case c.Get(middleware.ContextFirebaseUID) != nil:
		uid, _ := c.Get(middleware.ContextFirebaseUID).(string)
		user, err = users.GetUserByFirebaseUID(uid)
	default:
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Authenticated user not found in database")
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return user, nil
}
