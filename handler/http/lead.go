package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"crmhub/src/core/ingest"
	"crmhub/src/infrastructure/excel"
	"crmhub/src/storage/postgres/leadctrl"
)

type leadPayload struct {
	Name       string `json:"name" binding:"required"`
	Company    string `json:"company" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Phone      string `json:"phone"`
	Source     string `json:"source"`
	Status     string `json:"status"`
	Score      int    `json:"score"`
	Value      string `json:"value"`
	AssignedTo string `json:"assigned_to"`
}

func (h *Handler) ListLeads(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	params := leadctrl.ListParams{
		Search:     c.Query("search"),
		Status:     splitList(c.Query("status")),
		Source:     splitList(c.Query("source")),
		AssignedTo: splitList(c.Query("assigned_to")),
		ScoreMin:   queryIntPtr(c, "score_min"),
		ScoreMax:   queryIntPtr(c, "score_max"),
		Offset:     (page - 1) * pageSize,
		Limit:      pageSize,
	}

	items, err := h.opts.Leads.List(c.Request.Context(), params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list leads"})
		return
	}
	total, err := h.opts.Leads.Count(c.Request.Context(), params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count leads"})
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	})
}

func (h *Handler) GetLead(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	lead, err := h.opts.Leads.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get lead"})
		return
	}
	if lead == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Lead not found"})
		return
	}
	c.JSON(http.StatusOK, lead)
}

func (h *Handler) CreateLead(c *gin.Context) {
	var payload leadPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	lead := leadctrl.Lead{
		Name:       payload.Name,
		Company:    payload.Company,
		Email:      payload.Email,
		Phone:      payload.Phone,
		Source:     payload.Source,
		Status:     payload.Status,
		Score:      payload.Score,
		Value:      payload.Value,
		AssignedTo: payload.AssignedTo,
	}
	if err := h.opts.Leads.Create(c.Request.Context(), &lead); err != nil {
		if ingest.IsDuplicate(err) {
			c.JSON(http.StatusConflict, gin.H{"detail": "A lead with this email already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create lead"})
		return
	}
	c.JSON(http.StatusCreated, lead)
}

func (h *Handler) UpdateLead(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var updates map[string]interface{}
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	delete(updates, "id")
	delete(updates, "created_at")
	delete(updates, "updated_at")

	lead, err := h.opts.Leads.Update(c.Request.Context(), id, updates)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update lead"})
		return
	}
	if lead == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Lead not found"})
		return
	}
	c.JSON(http.StatusOK, lead)
}

func (h *Handler) DeleteLead(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	deleted, err := h.opts.Leads.Delete(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete lead"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Lead not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteAllLeads(c *gin.Context) {
	count, err := h.opts.Leads.DeleteAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete leads"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"message":       "Deleted all leads",
		"deleted_count": count,
	})
}

func (h *Handler) GetLeadsSummary(c *gin.Context) {
	summary, err := h.opts.Leads.Summary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute summary"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) GetLeadFilterOptions(c *gin.Context) {
	options, err := h.opts.Leads.FilterOptions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load filter options"})
		return
	}
	c.JSON(http.StatusOK, options)
}

func (h *Handler) DownloadLeadTemplate(c *gin.Context) {
	sendTemplate(c, excel.LeadSchema, "leads_template.xlsx")
}

func (h *Handler) BulkUploadLeads(c *gin.Context) {
	handleBulkUpload(h, c, "leads", excel.LeadSchema, h.leadLoaderFactory())
}

func (h *Handler) leadLoaderFactory() ingest.LoaderFactory[leadctrl.Lead] {
	return leadctrl.NewLoaderFactory(h.opts.SessionFactory)
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func queryIntPtr(c *gin.Context, key string) *int {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
