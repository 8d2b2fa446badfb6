package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/azkastekom/massweb/internal/models"
	"github.com/azkastekom/massweb/internal/service"
)

type unpublishRequest struct {
	IDs []uint `json:"ids" binding:"required"`
}

func (s *Server) loadContent(c *gin.Context) (*models.GeneratedContent, bool) {
	id, ok := uintParam(c, "id")
	if !ok {
		return nil, false
	}

	ctx := c.Request.Context()
	content, err := s.Contents.Get(ctx, id)
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	if _, err := s.Projects.Get(ctx, organizationID(c), content.ProjectID); err != nil {
		s.respondError(c, err)
		return nil, false
	}
	return content, true
}

func (s *Server) handleGetContent(c *gin.Context) {
	content, ok := s.loadContent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, content)
}

func (s *Server) handleUpdateContent(c *gin.Context) {
	content, ok := s.loadContent(c)
	if !ok {
		return
	}

	var req service.ContentUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	updated, err := s.Contents.Update(c.Request.Context(), content.ID, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteContent(c *gin.Context) {
	content, ok := s.loadContent(c)
	if !ok {
		return
	}
	if err := s.Contents.Delete(c.Request.Context(), content.ID); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUnpublish(c *gin.Context) {
	var req unpublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	n, err := s.Contents.Unpublish(c.Request.Context(), organizationID(c), req.IDs)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unpublished": n})
}

func (s *Server) handleListErrors(c *gin.Context) {
	page, limit := pagination(c)
	unresolved, _ := strconv.ParseBool(c.DefaultQuery("unresolved", "false"))

	logs, total, err := s.Monitoring.ListErrors(c.Request.Context(), organizationID(c), page, limit, unresolved)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": logs, "total": total, "page": page, "limit": limit})
}

func (s *Server) handleResolveError(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := s.Monitoring.ResolveError(c.Request.Context(), organizationID(c), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": id})
}
