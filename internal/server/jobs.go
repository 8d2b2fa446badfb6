package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/azkastekom/massweb/internal/models"
)

type publishRequest struct {
	DelaySeconds *int `json:"delay_seconds"`
	Wait         bool `json:"wait"`
}

func (s *Server) handlePublish(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}

	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}

	delay := s.Config.Publisher.DefaultDelaySeconds
	if req.DelaySeconds != nil {
		delay = *req.DelaySeconds
	}

	ctx := c.Request.Context()
	if req.Wait {
		job, err := s.Jobs.PublishNow(ctx, project.ID, delay)
		if err != nil && job == nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
		return
	}

	job, err := s.Jobs.Create(ctx, project.ID, delay)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) handleListJobs(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	jobs, err := s.Jobs.List(c.Request.Context(), project.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) handleActiveJob(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	job, err := s.Jobs.GetActive(c.Request.Context(), project.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// loadJob resolves :id and checks that its project is visible to the caller
func (s *Server) loadJob(c *gin.Context) (*models.PublishJob, bool) {
	ctx := c.Request.Context()
	job, err := s.Jobs.Get(ctx, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	if _, err := s.Projects.Get(ctx, organizationID(c), job.ProjectID); err != nil {
		s.respondError(c, err)
		return nil, false
	}
	return job, true
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, ok := s.loadJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handlePauseJob(c *gin.Context) {
	job, ok := s.loadJob(c)
	if !ok {
		return
	}
	updated, err := s.Jobs.Pause(c.Request.Context(), job.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleResumeJob(c *gin.Context) {
	job, ok := s.loadJob(c)
	if !ok {
		return
	}
	updated, err := s.Jobs.Resume(c.Request.Context(), job.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleCancelJob(c *gin.Context) {
	job, ok := s.loadJob(c)
	if !ok {
		return
	}
	updated, err := s.Jobs.Cancel(c.Request.Context(), job.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteJob(c *gin.Context) {
	job, ok := s.loadJob(c)
	if !ok {
		return
	}
	if err := s.Jobs.Delete(c.Request.Context(), job.ID); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
