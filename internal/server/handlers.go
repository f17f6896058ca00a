package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/metalinked/metalinked/internal/portal"
)

const (
	errorMessageInvalidDraft  = "request body must be a JSON object with name and url"
	errorMessagePostNotFound  = "post task not found"
	errorMessageDraftRejected = "draft cannot change while a profile is being posted"

	logMessagePostTaskStarted  = "post task started"
	logMessagePostTaskFinished = "post task finished"
	logFieldTaskID             = "task_id"
	logFieldTransaction        = "transaction"
)

type errorResponse struct {
	Error    string           `json:"error"`
	Kind     string           `json:"kind,omitempty"`
	Notice   string           `json:"notice,omitempty"`
	Snapshot *portal.Snapshot `json:"snapshot,omitempty"`
}

type connectResponse struct {
	Account  portal.Account  `json:"account"`
	Snapshot portal.Snapshot `json:"snapshot"`
}

type postAcceptedResponse struct {
	TaskID string         `json:"taskID"`
	Status postTaskStatus `json:"status"`
}

func (handler portalHandler) serveState(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, handler.session.Snapshot())
}

func (handler portalHandler) connect(ginContext *gin.Context) {
	account, err := handler.session.RequestConnection(ginContext.Request.Context())
	if err != nil {
		handler.writeError(ginContext, err)
		return
	}
	ginContext.JSON(http.StatusOK, connectResponse{Account: account, Snapshot: handler.session.Snapshot()})
}

func (handler portalHandler) refresh(ginContext *gin.Context) {
	if err := handler.session.RefreshProfiles(ginContext.Request.Context()); err != nil {
		handler.writeError(ginContext, err)
		return
	}
	ginContext.JSON(http.StatusOK, handler.session.Snapshot())
}

func (handler portalHandler) updateDraft(ginContext *gin.Context) {
	var draft portal.ProfileDraft
	if err := ginContext.ShouldBindJSON(&draft); err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse{Error: errorMessageInvalidDraft})
		return
	}
	if !handler.session.SetDraft(draft) {
		ginContext.JSON(http.StatusConflict, errorResponse{Error: errorMessageDraftRejected})
		return
	}
	ginContext.JSON(http.StatusOK, handler.session.Snapshot())
}

// submitProfile claims the Posting phase, then runs the write in the background
// and answers with a task identifier. The write outlives the request.
func (handler portalHandler) submitProfile(ginContext *gin.Context) {
	var draft portal.ProfileDraft
	if err := ginContext.ShouldBindJSON(&draft); err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse{Error: errorMessageInvalidDraft})
		return
	}
	claimed, err := handler.session.BeginPost(draft)
	if err != nil {
		handler.writeError(ginContext, err)
		return
	}

	task := handler.posts.CreateTask(draft)
	handler.logger.Info(logMessagePostTaskStarted, zap.String(logFieldTaskID, task.TaskID))
	backgroundContext := context.WithoutCancel(ginContext.Request.Context())
	go handler.runPost(backgroundContext, task.TaskID, claimed)

	ginContext.JSON(http.StatusAccepted, postAcceptedResponse{TaskID: task.TaskID, Status: task.Status})
}

func (handler portalHandler) runPost(ctx context.Context, taskIdentifier string, claimed *portal.ClaimedPost) {
	postErr := claimed.Run(ctx)
	transaction := handler.session.Snapshot().LastTransaction
	handler.posts.CompleteTask(taskIdentifier, transaction, postErr)
	handler.logger.Info(logMessagePostTaskFinished,
		zap.String(logFieldTaskID, taskIdentifier),
		zap.String(logFieldTransaction, transaction),
		zap.Error(postErr),
	)
}

func (handler portalHandler) postStatus(ginContext *gin.Context) {
	task, exists := handler.posts.TaskSnapshot(ginContext.Param(postIDParameter))
	if !exists {
		ginContext.JSON(http.StatusNotFound, errorResponse{Error: errorMessagePostNotFound})
		return
	}
	ginContext.JSON(http.StatusOK, task)
}

func (handler portalHandler) writeError(ginContext *gin.Context, err error) {
	snapshot := handler.session.Snapshot()
	response := errorResponse{Error: err.Error(), Snapshot: &snapshot}
	if kind := portal.KindOf(err); kind != "" && errors.As(err, new(*portal.Error)) {
		response.Kind = string(kind)
	}
	if errors.Is(err, portal.ErrCapabilityMissing) {
		response.Notice = portal.InstallWalletNotice
	}
	ginContext.JSON(statusForError(err), response)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, portal.ErrNotConnected),
		errors.Is(err, portal.ErrPostInFlight),
		errors.Is(err, portal.ErrConnectionInFlight):
		return http.StatusConflict
	case errors.Is(err, portal.ErrCapabilityMissing):
		return http.StatusPreconditionFailed
	case errors.Is(err, portal.ErrUserRejected):
		return http.StatusForbidden
	case errors.Is(err, portal.ErrResourceExceeded),
		errors.Is(err, portal.ErrRemoteRejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
