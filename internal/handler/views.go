package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Cyansiiii/attendance/internal/apiclient"
)

func (h *Handler) dashboard(c *gin.Context) {
	store := h.store(c)
	summary, err := h.clientFor(c, store).Dashboard(c.Request.Context())
	if err != nil {
		renderAPIError(c, err, "Failed to fetch dashboard data")
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) insights(c *gin.Context) {
	var req apiclient.InsightsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	store := h.store(c)
	resp, err := h.clientFor(c, store).Insights(c.Request.Context(), req)
	if err != nil {
		renderAPIError(c, err, "Failed to generate insights")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func reportQuery(c *gin.Context) apiclient.ReportQuery {
	return apiclient.ReportQuery{
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
		ClassName: c.Query("class_name"),
		Section:   c.Query("section"),
	}
}

func (h *Handler) reports(c *gin.Context) {
	store := h.store(c)
	resp, err := h.clientFor(c, store).Reports(c.Request.Context(), reportQuery(c))
	if err != nil {
		renderAPIError(c, err, "Failed to fetch report")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// exportReport streams the backend's csv or pdf rendition through unchanged.
func (h *Handler) exportReport(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	store := h.store(c)
	body, contentType, err := h.clientFor(c, store).ExportReport(c.Request.Context(), reportQuery(c), format)
	if err != nil {
		renderAPIError(c, err, "Failed to export report")
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", `attachment; filename="attendance-report.`+format+`"`)
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, body)
}

func (h *Handler) classes(c *gin.Context) {
	store := h.store(c)
	classes, err := h.clientFor(c, store).Classes(c.Request.Context())
	if err != nil {
		renderAPIError(c, err, "Failed to fetch classes")
		return
	}
	c.JSON(http.StatusOK, classes)
}

func (h *Handler) listStudents(c *gin.Context) {
	store := h.store(c)
	students, err := h.clientFor(c, store).Students(c.Request.Context(), c.Query("class_name"), c.Query("section"))
	if err != nil {
		renderAPIError(c, err, "Failed to fetch students")
		return
	}
	c.JSON(http.StatusOK, students)
}

// addStudent forwards the multipart creation form, photo included. Duplicate
// roll numbers come back from the backend as a validation message and are
// surfaced as-is.
func (h *Handler) addStudent(c *gin.Context) {
	ns := apiclient.NewStudent{
		Name:          c.PostForm("name"),
		RollNumber:    c.PostForm("roll_number"),
		ClassName:     c.PostForm("class_name"),
		Section:       c.PostForm("section"),
		DateOfBirth:   c.PostForm("date_of_birth"),
		ParentName:    c.PostForm("parent_name"),
		ParentContact: c.PostForm("parent_contact"),
	}
	if ns.Name == "" || ns.RollNumber == "" || ns.ClassName == "" || ns.Section == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, roll_number, class_name and section are required"})
		return
	}

	if file, header, err := c.Request.FormFile("photo"); err == nil {
		defer file.Close()
		data, rerr := io.ReadAll(file)
		if rerr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read photo failed"})
			return
		}
		ns.Photo = data
		ns.PhotoFilename = header.Filename
	}

	store := h.store(c)
	student, err := h.clientFor(c, store).AddStudent(c.Request.Context(), ns)
	if err != nil {
		renderAPIError(c, err, "Failed to add student")
		return
	}
	c.JSON(http.StatusCreated, student)
}
