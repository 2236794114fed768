package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/Cyansiiii/attendance/internal/apiclient"
	"github.com/Cyansiiii/attendance/internal/attendance"
	"github.com/Cyansiiii/attendance/internal/config"
	"github.com/Cyansiiii/attendance/internal/queue"
	"github.com/Cyansiiii/attendance/internal/recognition"
	"github.com/Cyansiiii/attendance/internal/session"
)

// Handler wires the browser-facing routes to the backend client, the session
// bootstrapper, and the per-session attendance sheets.
type Handler struct {
	cfg        config.App
	api        *apiclient.Client
	boot       *session.Bootstrapper
	sheets     *attendance.SheetStore
	recognizer recognition.Recognizer
	jobs       queue.Queue
}

// New builds a Handler.
func New(cfg config.App, api *apiclient.Client, boot *session.Bootstrapper, sheets *attendance.SheetStore, rec recognition.Recognizer, jobs queue.Queue) *Handler {
	return &Handler{cfg: cfg, api: api, boot: boot, sheets: sheets, recognizer: rec, jobs: jobs}
}

// Register attaches all routes to the engine.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/auth/login", h.login)
	r.GET("/auth/callback", h.callback)
	r.GET("/auth/me", h.me)
	r.POST("/auth/logout", h.logout)

	ui := r.Group("/ui")
	ui.GET("/dashboard", h.dashboard)
	ui.POST("/insights", h.insights)
	ui.GET("/reports", h.reports)
	ui.GET("/reports/export", h.exportReport)
	ui.GET("/classes", h.classes)
	ui.GET("/students", h.listStudents)
	ui.POST("/students", h.addStudent)

	att := ui.Group("/attendance")
	att.PUT("/sheet", h.selectSheet)
	att.GET("/sheet", h.viewSheet)
	att.POST("/mark", h.mark)
	att.POST("/mark-all", h.markAll)
	att.POST("/recognize", h.recognize)
	att.POST("/recognize/queue", h.queueCapture)
	att.POST("/save", h.save)
	att.DELETE("/recognized", h.clearRecognized)
}

// clientFor scopes the backend client to this request's cookie. The 401 hook
// clears the cookie once so the browser loses the credential together with
// the rejected call.
func (h *Handler) clientFor(c *gin.Context, store session.Store) *apiclient.Client {
	token, _ := store.Token()
	scoped := h.api.WithTokenSource(apiclient.StaticToken(token))
	scoped.OnUnauthorized(store.Clear)
	return scoped
}

func (h *Handler) store(c *gin.Context) *session.CookieStore {
	return session.NewCookieStore(c.Writer, c.Request)
}

// renderAPIError maps backend rejections onto the notices the front end
// shows: 401 signals the session-expired redirect, 403/404/5xx get their
// generic category messages, and validation failures surface the
// backend-provided message when present.
func renderAPIError(c *gin.Context, err error, fallback string) {
	switch {
	case apiclient.IsUnauthorized(err):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":    "Session expired. Please login again.",
			"redirect": "/login",
		})
	case apiclient.IsForbidden(err):
		c.JSON(http.StatusForbidden, gin.H{"error": "Access forbidden. You don't have permission for this action."})
	case apiclient.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "Resource not found."})
	case apiclient.IsServerError(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Server error. Please try again later."})
	case apiclient.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": apiclient.UserMessage(err, fallback)})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": fallback})
	}
}

// login redirects to the external identity provider, which sends the browser
// back with a one-time session identifier in the URL fragment.
func (h *Handler) login(c *gin.Context) {
	redirect := url.QueryEscape(c.Query("redirect"))
	if redirect == "" {
		redirect = url.QueryEscape("/dashboard")
	}
	c.Redirect(http.StatusFound, h.cfg.LoginURL+"?redirect="+redirect)
}

// callback handles the post-login redirect. Browsers do not forward URL
// fragments, so the SPA reposts the fragment (or the bare session_id) as a
// query parameter.
func (h *Handler) callback(c *gin.Context) {
	fragment := c.Request.URL.Fragment
	if fragment == "" {
		fragment = c.Query("fragment")
	}
	if fragment == "" {
		if id := c.Query("session_id"); id != "" {
			fragment = "session_id=" + id
		}
	}

	store := h.store(c)
	ident := h.boot.Bootstrap(c.Request.Context(), store, fragment)
	if ident == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"user": nil, "error": "authentication failed"})
		return
	}
	// A redirect target lets the SPA land on a clean URL without the fragment.
	if target := c.Query("redirect"); target != "" {
		c.Redirect(http.StatusFound, target)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": ident})
}

// me reports the visitor's bootstrap state: the returning-visitor path of the
// bootstrapper, never the one-time exchange.
func (h *Handler) me(c *gin.Context) {
	store := h.store(c)
	ident := h.boot.Bootstrap(c.Request.Context(), store, "")
	c.JSON(http.StatusOK, gin.H{"user": ident})
}

func (h *Handler) logout(c *gin.Context) {
	store := h.store(c)
	if token, ok := store.Token(); ok {
		h.sheets.Delete(token)
	}
	h.boot.Logout(c.Request.Context(), store)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}
