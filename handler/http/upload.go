package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"

	"crmhub/src/core/ingest"
	"crmhub/src/infrastructure/excel"
	"crmhub/src/infrastructure/log"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// GetUploadProgress returns the live snapshot of a background upload task.
// Unknown or evicted identifiers are a 404, not an error.
func (h *Handler) GetUploadProgress(c *gin.Context) {
	snapshot, ok := h.opts.Registry.Get(c.Param("taskId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"detail": "Task not found. It may have expired (tasks are kept for 1 hour after completion).",
		})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func sendTemplate(c *gin.Context, schema excel.Schema, filename string) {
	data, err := excel.Template(schema)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate template"})
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, xlsxContentType, data)
}

// handleBulkUpload is the shared upload path for every entity type: parse
// the workbook, then either ingest inline (small uploads) or register a
// task and hand the rows to a pool worker.
func handleBulkUpload[T any](h *Handler, c *gin.Context, entity string, schema excel.Schema, newLoader ingest.LoaderFactory[T]) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	defer file.Close()

	if !excel.ValidExtension(header.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid file format. Please upload an Excel file (.xlsx or .xls)",
		})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return
	}

	rows, fileErrs, err := excel.Parse(bytes.NewReader(data), schema)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid Excel file: %v", err)})
		return
	}
	if len(fileErrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Invalid Excel format",
			"errors":  fileErrs,
		})
		return
	}

	asyncMode := c.Query("async_mode") == "true"
	if asyncMode || len(rows) > h.opts.AsyncThreshold {
		runAsyncUpload(h, c, entity, rows, data, newLoader)
		return
	}

	// Small uploads run inline and return the full result in-call. Partial
	// failure is still a 200; the counts tell the story.
	pipe := ingest.NewPipeline(h.opts.SyncConfig, newLoader, h.opts.Credentials, h.opts.Registry, h.opts.Events)
	result, err := pipe.Run(c.Request.Context(), "", rows)
	if err != nil {
		status := http.StatusInternalServerError
		if ingest.IsAuth(err) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// runAsyncUpload registers a task, archives the workbook, and dispatches
// the job. The caller gets the task id immediately.
func runAsyncUpload[T any](h *Handler, c *gin.Context, entity string, rows []ingest.Row, raw []byte, newLoader ingest.LoaderFactory[T]) {
	taskID := h.opts.Registry.Create(len(rows))

	if h.opts.Archive != nil {
		object := path.Join(entity, taskID+".xlsx")
		if err := h.opts.Archive.Archive(c.Request.Context(), object, raw); err != nil {
			log.Error(err, "failed to archive upload", "task_id", taskID, "object", object)
		}
	}

	pipe := ingest.NewPipeline(h.opts.AsyncConfig, newLoader, h.opts.Credentials, h.opts.Registry, h.opts.Events)
	job := ingest.Job{
		TaskID: taskID,
		Total:  len(rows),
		Run: func(ctx context.Context) (*ingest.Result, error) {
			return pipe.Run(ctx, taskID, rows)
		},
	}
	if err := h.opts.Pool.Dispatch(job); err != nil {
		h.opts.Registry.Fail(taskID, err.Error())
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Too many uploads in progress, try again later"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"async":   true,
		"task_id": taskID,
		"message": fmt.Sprintf(
			"Processing %d records in background. Use /api/v1/%s/upload-progress/%s to check status.",
			len(rows), entity, taskID,
		),
	})
}
