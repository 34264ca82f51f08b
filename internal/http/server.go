package http

import (
	"net/http"

	"github.com/agenticassets/AA-coding-agent/pkg/orchestrator"
	"github.com/agenticassets/AA-coding-agent/pkg/storage"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

const internalTokenHeader = "X-Internal-Token"

// Server exposes the task endpoints. Handlers are short-lived and stateless:
// they only read/write the task store and hand work to the orchestrator,
// never awaiting a pipeline.
type Server struct {
	svc           *orchestrator.Service
	internalToken string
}

func NewServer(svc *orchestrator.Service, internalToken string) *Server {
	return &Server{svc: svc, internalToken: internalToken}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "agentd is running")
	})

	api := r.Group("/api")
	api.POST("/tasks/:id/start", s.startTask)
	api.PATCH("/tasks/:id", s.patchTask)
	api.GET("/tasks/:id", s.getTask)
	api.GET("/tasks/:id/messages", s.listMessages)
	return r
}

func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}

type startRequest struct {
	UserID string `json:"userId"`
}

// startTask accepts a start request scoped either by the internal service
// credential or by an explicit owning-user id, then schedules the pipeline as
// detached background work and acknowledges immediately.
func (s *Server) startTask(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	userID, ok := s.resolveCaller(c, req.UserID)
	if !ok {
		return
	}

	task, err := s.svc.StartTask(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "taskId": task.ID})
}

type patchRequest struct {
	Action string `json:"action"`
	UserID string `json:"userId"`
}

func (s *Server) patchTask(c *gin.Context) {
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Action != "stop" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported action"})
		return
	}

	userID, ok := s.resolveCaller(c, req.UserID)
	if !ok {
		return
	}

	task, err := s.svc.StopTask(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) getTask(c *gin.Context) {
	userID, ok := s.resolveCaller(c, c.Query("userId"))
	if !ok {
		return
	}
	task, err := s.svc.GetTask(c.Param("id"), userID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) listMessages(c *gin.Context) {
	userID, ok := s.resolveCaller(c, c.Query("userId"))
	if !ok {
		return
	}
	messages, err := s.svc.ListMessages(c.Param("id"), userID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// resolveCaller returns the user scope for the request: an empty string for
// an internal service caller, or the explicit owning-user id supplied when
// the caller authenticated the user through a different channel. Requests
// with neither are rejected.
func (s *Server) resolveCaller(c *gin.Context, userID string) (string, bool) {
	if s.internalToken != "" && c.GetHeader(internalTokenHeader) == s.internalToken {
		return "", true
	}
	if userID != "" {
		return userID, true
	}
	c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	return "", false
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, orchestrator.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, orchestrator.ErrAlreadyProcessing),
		errors.Is(err, orchestrator.ErrAlreadyTerminal),
		errors.Is(err, orchestrator.ErrNotProcessing):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
