package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/labdesk/internal/assistant"
	"github.com/zulandar/labdesk/internal/dispatch"
	"github.com/zulandar/labdesk/internal/models"
	"github.com/zulandar/labdesk/internal/registry"
	"github.com/zulandar/labdesk/internal/session"
	"go.uber.org/zap"
)

// registerRoutes sets up all API routes on the Gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	api := router.Group("/api")

	api.GET("/threads", s.handleListThreads)
	api.POST("/threads", s.handleCreateThread)
	api.GET("/threads/:id", s.handleThreadState)
	api.PATCH("/threads/:id", s.handleRenameThread)
	api.DELETE("/threads/:id", s.handleDeleteThread)
	api.POST("/threads/:id/select", s.handleSelectThread)
	api.PUT("/threads/:id/mode", s.handleSwitchMode)
	api.PUT("/threads/:id/product", s.handleSelectProduct)
	api.DELETE("/threads/:id/product", s.handleDeselectProduct)
	api.POST("/threads/:id/messages", s.handleSubmit)
	api.POST("/threads/:id/messages/:msgID/toggle", s.handleToggleProducts)

	api.GET("/modes", s.handleModes)
	api.POST("/examples", s.handleSubmitExample)
	api.GET("/search", s.handleSearch)
	api.GET("/health", s.handleHealth)
	api.GET("/events", s.handleEvents)
}

// threadView is one entry of the thread list.
type threadView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Active  bool   `json:"active"`
	Pending bool   `json:"pending"`
}

// stateView is the full view of one thread.
type stateView struct {
	threadView
	Mode            models.Mode      `json:"mode"`
	ModeLabel       string           `json:"modeLabel"`
	Placeholder     string           `json:"placeholder"`
	SelectedProduct *models.Product  `json:"selectedProduct"`
	Messages        []models.Message `json:"messages"`
}

type modeView struct {
	Mode     models.Mode `json:"mode"`
	Label    string      `json:"label"`
	Tooltip  string      `json:"tooltip"`
	Examples []string    `json:"examples"`
}

func (s *Server) view(t models.Thread) threadView {
	return threadView{
		ID:      t.ID,
		Name:    t.Name,
		Active:  t.ID == s.registry.Active(),
		Pending: s.coord.Pending(t.ID),
	}
}

func (s *Server) handleListThreads(c *gin.Context) {
	threads := s.registry.Threads()
	out := make([]threadView, 0, len(threads))
	for _, t := range threads {
		out = append(out, s.view(t))
	}
	c.JSON(http.StatusOK, gin.H{"threads": out, "active": s.registry.Active()})
}

func (s *Server) handleCreateThread(c *gin.Context) {
	id := s.registry.Create()
	t, _ := s.registry.Get(id)
	c.JSON(http.StatusCreated, s.view(t))
}

func (s *Server) handleThreadState(c *gin.Context) {
	id := c.Param("id")
	t, ok := s.registry.Get(id)
	if !ok {
		writeError(c, session.ErrUnknownThread)
		return
	}
	st, ok := s.machine.Snapshot(id)
	if !ok {
		writeError(c, session.ErrUnknownThread)
		return
	}
	c.JSON(http.StatusOK, stateView{
		threadView:      s.view(t),
		Mode:            st.Mode,
		ModeLabel:       st.Mode.Label(),
		Placeholder:     session.Placeholder(st.Mode, st.SelectedProduct),
		SelectedProduct: st.SelectedProduct,
		Messages:        st.Messages,
	})
}

// handleRenameThread renames a thread. With ?strict=true a name containing
// illegal characters is rejected instead of sanitized.
func (s *Server) handleRenameThread(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if c.Query("strict") == "true" {
		if err := registry.ValidateName(body.Name); err != nil {
			writeError(c, err)
			return
		}
	}
	name, ok := s.registry.Rename(c.Param("id"), body.Name)
	if !ok {
		writeError(c, session.ErrUnknownThread)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "name": name})
}

func (s *Server) handleDeleteThread(c *gin.Context) {
	if !s.registry.Delete(c.Param("id")) {
		writeError(c, session.ErrUnknownThread)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": s.registry.Active()})
}

func (s *Server) handleSelectThread(c *gin.Context) {
	if !s.registry.Select(c.Param("id")) {
		writeError(c, session.ErrUnknownThread)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": s.registry.Active()})
}

func (s *Server) handleSwitchMode(c *gin.Context) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode, err := models.ParseMode(body.Mode)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	changed, err := s.machine.SwitchMode(c.Param("id"), mode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed, "mode": mode})
}

// handleSelectProduct binds the product record in the body to the thread.
func (s *Server) handleSelectProduct(c *gin.Context) {
	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if p.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product record is required"})
		return
	}
	changed, err := s.machine.SelectProduct(c.Param("id"), &p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

func (s *Server) handleDeselectProduct(c *gin.Context) {
	changed, err := s.machine.DeselectProduct(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

func (s *Server) handleToggleProducts(c *gin.Context) {
	msgID, err := strconv.ParseInt(c.Param("msgID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	changed, err := s.machine.ToggleProductDisplay(c.Param("id"), msgID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

type submitBody struct {
	Text string `json:"text"`
}

// handleSubmit sends an utterance on the thread. By default it waits for
// the reply; with ?async=true it returns 202 at once and the reply is
// announced on the event feed.
func (s *Server) handleSubmit(c *gin.Context) {
	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	if _, ok := s.registry.Get(id); !ok {
		writeError(c, session.ErrUnknownThread)
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		c.Status(http.StatusNoContent)
		return
	}

	sc := dispatch.SessionContext{ThreadID: id}
	if c.Query("async") == "true" {
		if s.coord.Pending(id) {
			writeError(c, dispatch.ErrThreadBusy)
			return
		}
		done := s.coord.Dispatch(context.WithoutCancel(c.Request.Context()), sc, body.Text)
		go func() {
			if out := <-done; out.Err != nil {
				s.log.Warn("async submit failed", zap.String("thread", id), zap.Error(out.Err))
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"thread": id})
		return
	}

	reply, err := s.coord.Submit(c.Request.Context(), sc, body.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) handleSubmitExample(c *gin.Context) {
	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		c.Status(http.StatusNoContent)
		return
	}
	reply, err := s.coord.SubmitExample(c.Request.Context(), body.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) handleModes(c *gin.Context) {
	out := make([]modeView, 0, len(models.Modes))
	for _, m := range models.Modes {
		out = append(out, modeView{Mode: m, Label: m.Label(), Tooltip: m.Tooltip(), Examples: session.Examples(m)})
	}
	c.JSON(http.StatusOK, gin.H{"modes": out})
}

func (s *Server) handleSearch(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
		return
	}
	resp, err := s.client.Search(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleHealth reports the last scheduled probe, or probes now when none
// has run.
func (s *Server) handleHealth(c *gin.Context) {
	if s.prober != nil {
		res, seen := s.prober.Last()
		if !seen {
			res = s.prober.Check(c.Request.Context())
		}
		c.JSON(http.StatusOK, res)
		return
	}
	status, err := s.client.Health(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "healthy": true})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var rerr *assistant.RemoteError
	switch {
	case errors.Is(err, session.ErrUnknownThread):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrThreadBusy):
		return http.StatusConflict
	case errors.Is(err, registry.ErrIllegalName):
		return http.StatusUnprocessableEntity
	case errors.As(err, &rerr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
