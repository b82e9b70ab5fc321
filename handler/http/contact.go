package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crmhub/src/core/ingest"
	"crmhub/src/infrastructure/excel"
	"crmhub/src/storage/postgres/contactctrl"
)

type contactPayload struct {
	Name        string `json:"name" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Phone       string `json:"phone"`
	Company     string `json:"company"`
	Position    string `json:"position"`
	Location    string `json:"location"`
	Status      string `json:"status"`
	LastContact string `json:"last_contact"`
}

func (h *Handler) ListContacts(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	search := c.Query("search")
	items, err := h.opts.Contacts.List(c.Request.Context(), search, (page-1)*pageSize, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list contacts"})
		return
	}
	total, err := h.opts.Contacts.Count(c.Request.Context(), search)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count contacts"})
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

func (h *Handler) GetContact(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	contact, err := h.opts.Contacts.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get contact"})
		return
	}
	if contact == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Contact not found"})
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *Handler) CreateContact(c *gin.Context) {
	var payload contactPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contact := contactctrl.Contact{
		Name:        payload.Name,
		Email:       payload.Email,
		Phone:       payload.Phone,
		Company:     payload.Company,
		Position:    payload.Position,
		Location:    payload.Location,
		Status:      payload.Status,
		LastContact: payload.LastContact,
	}
	if err := h.opts.Contacts.Create(c.Request.Context(), &contact); err != nil {
		if ingest.IsDuplicate(err) {
			c.JSON(http.StatusConflict, gin.H{"detail": "A contact with this email already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create contact"})
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func (h *Handler) UpdateContact(c *gin.Context) {
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

	contact, err := h.opts.Contacts.Update(c.Request.Context(), id, updates)
	if err != nil {
		if ingest.IsDuplicate(err) {
			c.JSON(http.StatusConflict, gin.H{"detail": "A contact with this email already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update contact"})
		return
	}
	if contact == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Contact not found"})
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *Handler) DeleteContact(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	deleted, err := h.opts.Contacts.Delete(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete contact"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Contact not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteAllContacts(c *gin.Context) {
	count, err := h.opts.Contacts.DeleteAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete contacts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"message":       "Deleted all contacts",
		"deleted_count": count,
	})
}

func (h *Handler) DownloadContactTemplate(c *gin.Context) {
	sendTemplate(c, excel.ContactSchema, "contacts_template.xlsx")
}

func (h *Handler) BulkUploadContacts(c *gin.Context) {
	handleBulkUpload(h, c, "contacts", excel.ContactSchema, contactctrl.NewLoaderFactory(h.opts.SessionFactory))
}
