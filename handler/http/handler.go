package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crmhub/src/core/ingest"
	"crmhub/src/infrastructure/token"
	"crmhub/src/storage/minioctrl"
	"crmhub/src/storage/postgres"
	"crmhub/src/storage/postgres/contactctrl"
	"crmhub/src/storage/postgres/leadctrl"
)

// Options bundles everything the HTTP surface depends on. Archive may be
// nil when no object store is configured.
type Options struct {
	Leads          *leadctrl.LeadService
	Contacts       *contactctrl.ContactService
	Registry       *ingest.Registry
	Pool           *ingest.Pool
	Events         *ingest.Events
	Credentials    *token.Manager
	SessionFactory *postgres.Factory
	Archive        *minioctrl.UploadStore
	AsyncConfig    ingest.Config
	SyncConfig     ingest.Config
	AsyncThreshold int
}

type Handler struct {
	opts Options
}

func NewHandler(opts Options) *Handler {
	if opts.AsyncThreshold <= 0 {
		opts.AsyncThreshold = 5000
	}
	return &Handler{opts: opts}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")

	// Lead routes
	v1.GET("/leads", h.ListLeads)
	v1.GET("/leads/summary", h.GetLeadsSummary)
	v1.GET("/leads/filters/options", h.GetLeadFilterOptions)
	v1.GET("/leads/template", h.DownloadLeadTemplate)
	v1.POST("/leads/bulk-upload", h.BulkUploadLeads)
	v1.GET("/leads/upload-progress/:taskId", h.GetUploadProgress)
	v1.GET("/leads/:id", h.GetLead)
	v1.POST("/leads", h.CreateLead)
	v1.PUT("/leads/:id", h.UpdateLead)
	v1.DELETE("/leads/:id", h.DeleteLead)
	v1.DELETE("/leads", h.DeleteAllLeads)

	// Contact routes
	v1.GET("/contacts", h.ListContacts)
	v1.GET("/contacts/template", h.DownloadContactTemplate)
	v1.POST("/contacts/bulk-upload", h.BulkUploadContacts)
	v1.GET("/contacts/upload-progress/:taskId", h.GetUploadProgress)
	v1.GET("/contacts/:id", h.GetContact)
	v1.POST("/contacts", h.CreateContact)
	v1.PUT("/contacts/:id", h.UpdateContact)
	v1.DELETE("/contacts/:id", h.DeleteContact)
	v1.DELETE("/contacts", h.DeleteAllContacts)

	// Credential diagnostics
	v1.GET("/token-status", h.GetTokenStatus)
	v1.POST("/token-refresh", h.ForceTokenRefresh)

	v1.GET("/health", h.CheckHealth)
}

func (h *Handler) CheckHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// PaginatedResponse wraps list results with paging metadata.
type PaginatedResponse struct {
	Items      interface{} `json:"items"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int64       `json:"total_pages"`
}

func totalPages(total int64, pageSize int) int64 {
	if total <= 0 {
		return 0
	}
	return (total + int64(pageSize) - 1) / int64(pageSize)
}
