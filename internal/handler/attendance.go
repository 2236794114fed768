package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Cyansiiii/attendance/internal/apiclient"
	"github.com/Cyansiiii/attendance/internal/attendance"
	"github.com/Cyansiiii/attendance/internal/queue"
	"github.com/Cyansiiii/attendance/internal/session"
)

// sheetView is the sheet state the marking page renders.
type sheetView struct {
	Selection  attendance.Selection        `json:"selection"`
	Students   []apiclient.Student         `json:"students"`
	Attendance map[string]apiclient.Status `json:"attendance"`
	Dirty      bool                        `json:"dirty"`
	Stats      attendance.Stats            `json:"stats"`
	Recognized []attendance.Recognized     `json:"recognized"`
}

func viewOf(sheet *attendance.Sheet, search string) sheetView {
	return sheetView{
		Selection:  sheet.Selection(),
		Students:   sheet.Visible(search),
		Attendance: sheet.Entries(),
		Dirty:      sheet.Dirty(),
		Stats:      sheet.Stats(search),
		Recognized: sheet.RecognizedLog(),
	}
}

// sheetFor resolves the caller's sheet; a missing credential or sheet aborts
// the request.
func (h *Handler) sheetFor(c *gin.Context, store session.Store) (*attendance.Sheet, string, bool) {
	token, ok := store.Token()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return nil, "", false
	}
	sheet, ok := h.sheets.Get(token)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no attendance sheet loaded"})
		return nil, "", false
	}
	return sheet, token, true
}

// selectSheet pins a new (date, class, section) selection and loads it. Any
// previous sheet for the session is replaced, dropping its unsaved edits.
func (h *Handler) selectSheet(c *gin.Context) {
	var sel attendance.Selection
	if err := c.ShouldBindJSON(&sel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if sel.Date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date required"})
		return
	}

	store := h.store(c)
	token, ok := store.Token()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	sheet := attendance.NewSheet(sel)
	if err := sheet.Load(c.Request.Context(), h.clientFor(c, store)); err != nil {
		renderAPIError(c, err, "Failed to fetch students")
		return
	}
	h.sheets.Put(token, sheet)
	c.JSON(http.StatusOK, viewOf(sheet, c.Query("search")))
}

func (h *Handler) viewSheet(c *gin.Context) {
	store := h.store(c)
	sheet, _, ok := h.sheetFor(c, store)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewOf(sheet, c.Query("search")))
}

func (h *Handler) mark(c *gin.Context) {
	var req struct {
		StudentID string           `json:"student_id" binding:"required"`
		Status    apiclient.Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	store := h.store(c)
	sheet, _, ok := h.sheetFor(c, store)
	if !ok {
		return
	}
	if err := sheet.Mark(req.StudentID, req.Status); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dirty": sheet.Dirty()})
}

// markAll applies one status to the currently filtered view only.
func (h *Handler) markAll(c *gin.Context) {
	var req struct {
		Status apiclient.Status `json:"status" binding:"required"`
		Search string           `json:"search"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	store := h.store(c)
	sheet, _, ok := h.sheetFor(c, store)
	if !ok {
		return
	}
	count, err := sheet.MarkAllVisible(req.Search, req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": count, "dirty": sheet.Dirty()})
}

// recognize runs the simulated recognition pass over the visible,
// not-yet-recognized students and marks the matches present. Zero eligible
// students is a soft failure: a notice, no state change.
func (h *Handler) recognize(c *gin.Context) {
	var req struct {
		Search string `json:"search"`
	}
	// The body is optional; an empty body means an unfiltered pass.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	store := h.store(c)
	sheet, _, ok := h.sheetFor(c, store)
	if !ok {
		return
	}

	candidates := sheet.RecognitionCandidates(req.Search)
	if len(candidates) == 0 {
		c.JSON(http.StatusOK, gin.H{"recognized": []attendance.Recognized{}, "message": "No eligible students to recognize"})
		return
	}

	frame, err := h.recognizer.Capture(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Facial recognition failed"})
		return
	}
	matches, err := h.recognizer.Recognize(c.Request.Context(), frame, candidates)
	if err != nil {
		log.Printf("recognition failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Facial recognition failed"})
		return
	}
	added := sheet.ApplyRecognition(matches, time.Now().UTC())
	if added == nil {
		added = []attendance.Recognized{}
	}
	c.JSON(http.StatusOK, gin.H{"recognized": added, "dirty": sheet.Dirty()})
}

// queueCapture hands a captured frame to the background worker, which runs
// the external face service and persists matches with method=facial.
func (h *Handler) queueCapture(c *gin.Context) {
	var req struct {
		ImageURL string `json:"image_url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	store := h.store(c)
	sheet, token, ok := h.sheetFor(c, store)
	if !ok {
		return
	}

	sel := sheet.Selection()
	job := queue.CaptureJob{
		Token:     token,
		Date:      sel.Date,
		ClassName: sel.ClassName,
		Section:   sel.Section,
		ImageURL:  req.ImageURL,
	}
	body, err := job.Encode()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode job failed"})
		return
	}
	if err := h.jobs.Publish(c.Request.Context(), body); err != nil {
		log.Printf("queue publish failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Facial recognition queue unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Capture queued for recognition"})
}

// save persists the buffer, one call per non-empty status group, dispatched
// together. Any group failing surfaces as one generic failure and leaves the
// sheet dirty.
func (h *Handler) save(c *gin.Context) {
	var req struct {
		Method apiclient.Method `json:"method"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Method == "" {
		req.Method = apiclient.MethodManual
	}
	store := h.store(c)
	sheet, _, ok := h.sheetFor(c, store)
	if !ok {
		return
	}
	if err := sheet.Save(c.Request.Context(), h.clientFor(c, store), req.Method); err != nil {
		log.Printf("save attendance failed: %v", err)
		renderAPIError(c, err, "Failed to save attendance")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Attendance saved successfully!", "dirty": sheet.Dirty()})
}

func (h *Handler) clearRecognized(c *gin.Context) {
	store := h.store(c)
	sheet, _, ok := h.sheetFor(c, store)
	if !ok {
		return
	}
	sheet.ClearRecognized()
	c.JSON(http.StatusOK, gin.H{"recognized": []attendance.Recognized{}})
}
