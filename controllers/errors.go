package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/restaurant-floor/middlewares"
	"github.com/yeremiapane/restaurant-floor/models"
	"github.com/yeremiapane/restaurant-floor/services"
	"github.com/yeremiapane/restaurant-floor/utils"
)

// StatusFor maps a lifecycle error onto an HTTP status.
func StatusFor(err error) int {
	var le *services.LifecycleError
	if !errors.As(err, &le) {
		return http.StatusInternalServerError
	}
	switch le.Code {
	case services.CodeValidation:
		return http.StatusBadRequest
	case services.CodeNotFound, services.CodeSessionNotFound:
		return http.StatusNotFound
	case services.CodeSessionExpired:
		return http.StatusGone
	case services.CodeInvalidTransition:
		return http.StatusUnprocessableEntity
	case services.CodeAlreadyMerged, services.CodeNotMerged, services.CodeConflictingOperation:
		return http.StatusConflict
	case services.CodeTableUnavailable:
		switch le.Reason {
		case services.ReasonMaintenance, services.ReasonInactive, services.ReasonMergedAway:
			return http.StatusGone
		}
		return http.StatusConflict
	case services.CodeBackendUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondErr(c *gin.Context, err error) {
	status := StatusFor(err)
	var le *services.LifecycleError
	if !errors.As(err, &le) {
		utils.ErrorLogger.WithField("path", c.FullPath()).Errorf("unexpected error: %v", err)
		utils.RespondError(c, status, errors.New("internal server error"))
		return
	}
	if status >= http.StatusInternalServerError {
		utils.ErrorLogger.WithFields(logrus.Fields{
			"path": c.FullPath(),
			"code": le.Code,
		}).Error(err)
	}
	code := string(le.Code)
	if le.Reason != "" {
		code += ":" + le.Reason
	}
	c.JSON(status, utils.JSONResponse{
		Status:  false,
		Message: le.Message,
		Code:    code,
	})
}

func badRequest(c *gin.Context, err error) {
	utils.RespondErrorCode(c, http.StatusBadRequest, string(services.CodeValidation), err)
}

func errInvalid(field string) error {
	return fmt.Errorf("invalid %s", field)
}

func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, errInvalid(name))
		return 0, false
	}
	return uint(id), true
}

// actorOf turns the authenticated identity into the engine's actor.
func actorOf(c *gin.Context) services.Actor {
	id, ok := middlewares.CurrentIdentity(c)
	if !ok {
		return services.SystemActor
	}
	return services.Actor{StaffID: id.StaffID, Role: id.Role}
}

// branchOf picks the branch a request is scoped to. Staff of a branch only
// see their own branch; admins may pass ?branch_id=.
func branchOf(c *gin.Context) string {
	id, ok := middlewares.CurrentIdentity(c)
	if ok && id.BranchID != "" && id.Role != models.RoleAdmin {
		return id.BranchID
	}
	if b := c.Query("branch_id"); b != "" {
		return b
	}
	if ok {
		return id.BranchID
	}
	return ""
}
