package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/azkastekom/massweb/internal/models"
	"github.com/azkastekom/massweb/internal/service"
)

type createProjectRequest struct {
	Name string `json:"name" binding:"required"`
	service.TemplateSet
}

// loadProject resolves :id within the caller's organization, writing the
// error response itself on failure
func (s *Server) loadProject(c *gin.Context) (*models.Project, bool) {
	id, ok := uintParam(c, "id")
	if !ok {
		return nil, false
	}
	project, err := s.Projects.Get(c.Request.Context(), organizationID(c), id)
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	return project, true
}

func (s *Server) handleCreateProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	project, err := s.Projects.Create(c.Request.Context(), organizationID(c), req.Name, req.TemplateSet)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (s *Server) handleGetProject(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *Server) handleDeleteProject(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	if err := s.Projects.Delete(c.Request.Context(), organizationID(c), project.ID); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUpdateTemplates(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}

	var req service.TemplateSet
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	updated, err := s.Projects.UpdateTemplates(c.Request.Context(), organizationID(c), project.ID, req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleUploadThumbnail(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.respondError(c, err)
		return
	}
	defer f.Close()

	updated, err := s.Projects.SetThumbnail(c.Request.Context(), organizationID(c), project.ID, fh.Filename, fh.Header.Get("Content-Type"), f)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleUploadDataset(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	if fh.Size > s.Config.Server.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.respondError(c, err)
		return
	}
	defer f.Close()

	result, err := s.Datasets.Import(c.Request.Context(), project.ID, fh.Filename, f)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListColumns(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	columns, err := s.Datasets.FindColumns(c.Request.Context(), project.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"columns": columns})
}

func (s *Server) handleListRows(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	page, limit := pagination(c)

	ctx := c.Request.Context()
	total, err := s.Datasets.CountRows(ctx, project.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	rows, err := s.Datasets.FindRows(ctx, project.ID, (page-1)*limit, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows, "total": total, "page": page, "limit": limit})
}

func (s *Server) handleGenerate(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	result, err := s.Generator.Generate(c.Request.Context(), project.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListContents(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}

	filter := service.ContentFilter{
		ProjectID: project.ID,
		Status:    models.PublishStatus(c.Query("status")),
		Search:    c.Query("search"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		badRequest(c, "invalid status")
		return
	}

	page, limit := pagination(c)
	contents, total, err := s.Contents.FindAndCount(c.Request.Context(), filter, page, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contents": contents, "total": total, "page": page, "limit": limit})
}

func exportParams(c *gin.Context) (service.ExportFormat, models.PublishStatus, error) {
	format, err := service.ParseExportFormat(c.DefaultQuery("format", "csv"))
	if err != nil {
		return "", "", err
	}
	status := models.PublishStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		return "", "", service.ErrInvalidArgument
	}
	return format, status, nil
}

func (s *Server) handleExport(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	format, status, err := exportParams(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.Header("Content-Type", format.ContentType())
	c.Header("Content-Disposition", `attachment; filename="`+s.Exports.Filename(project.ID, format)+`"`)
	c.Status(http.StatusOK)

	if err := s.Exports.Export(c.Request.Context(), project.ID, format, status, c.Writer); err != nil {
		_ = c.Error(err)
	}
}

func (s *Server) handleStoreExport(c *gin.Context) {
	project, ok := s.loadProject(c)
	if !ok {
		return
	}
	format, status, err := exportParams(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	stored, err := s.Exports.ExportToStorage(c.Request.Context(), project.ID, format, status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}
