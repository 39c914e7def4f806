/*
Package devapi is a development backend that speaks the scan HTTP contract.
It stores scans through a db.Manager and can walk them through their
lifecycle with canned findings. It does not scan anything.
*/
package devapi

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vigo/scanwatch/internal/db"
	"github.com/vigo/scanwatch/internal/scan"
)

type createRequest struct {
	TargetURL string `json:"target_url"`
	ScanType  string `json:"scan_type"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Server is the development backend.
type Server struct {
	router    *gin.Engine
	store     db.Manager
	simulator *Simulator
	logger    *slog.Logger
	cors      bool
}

// Option represents option function type.
type Option func(*Server)

// WithLogger sets logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSimulator makes every created scan progress on its own.
func WithSimulator(sim *Simulator) Option {
	return func(s *Server) {
		s.simulator = sim
	}
}

// WithCORS allows browser clients from any origin.
func WithCORS(enabled bool) Option {
	return func(s *Server) {
		s.cors = enabled
	}
}

// New instantiates the server.
func New(store db.Manager, options ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		store:  store,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(s)
	}

	s.router.Use(gin.Recovery(), s.requestLogger())
	s.router.SetHTMLTemplate(reportTemplate)
	s.setupRoutes()

	return s
}

// Handler returns the http handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	if s.cors {
		s.router.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}

			c.Next()
		})
	}

	api := s.router.Group("/api")
	{
		api.GET("/scans", s.handleListScans)
		api.POST("/scans", s.handleCreateScan)
		api.GET("/scans/:id", s.handleGetScan)
		api.GET("/scans/:id/report", s.handleReport)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
		)
	}
}

func (s *Server) handleListScans(c *gin.Context) {
	scans, err := s.store.ListScans(c.Request.Context())
	if err != nil {
		s.internalError(c, "list scans", err)
		return
	}

	c.JSON(http.StatusOK, scans)
}

func (s *Server) handleCreateScan(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Detail: "invalid json body"})
		return
	}

	target, err := scan.ValidateTarget(req.TargetURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}

	typ, err := scan.ParseType(req.ScanType)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}

	created, err := s.store.CreateScan(c.Request.Context(), target, typ)
	if err != nil {
		s.internalError(c, "create scan", err)
		return
	}

	s.logger.Info("scan created", "scan_id", created.ID, "target", created.TargetURL, "type", created.Type)

	if s.simulator != nil {
		s.simulator.Run(*created)
	}

	c.JSON(http.StatusCreated, created)
}

func (s *Server) loadDetail(c *gin.Context) (*scan.Detail, bool) {
	id := scan.ID(strings.TrimSpace(c.Param("id")))

	found, err := s.store.GetScan(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Detail: "scan not found"})
			return nil, false
		}
		s.internalError(c, "get scan", err)

		return nil, false
	}

	vulns, err := s.store.Vulnerabilities(c.Request.Context(), id)
	if err != nil {
		s.internalError(c, "list vulnerabilities", err)
		return nil, false
	}

	return &scan.Detail{Scan: *found, Vulnerabilities: vulns}, true
}

func (s *Server) handleGetScan(c *gin.Context) {
	detail, ok := s.loadDetail(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, detail)
}

func (s *Server) handleReport(c *gin.Context) {
	detail, ok := s.loadDetail(c)
	if !ok {
		return
	}

	c.HTML(http.StatusOK, "report", gin.H{
		"Scan":   detail,
		"Counts": detail.SeverityCounts(),
	})
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.logger.Error(op, "err", err)
	c.JSON(http.StatusInternalServerError, errorResponse{Detail: "internal error"})
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Scan report {{.Scan.ID}}</title></head>
<body>
<h1>{{.Scan.TargetURL}}</h1>
<p>Status: {{.Scan.Status}} | Type: {{.Scan.Type}} | Created: {{.Scan.CreatedAt.Format "2006-01-02 15:04:05"}}</p>
<table>
<tr><th>critical</th><th>high</th><th>medium</th><th>low</th><th>info</th><th>total</th></tr>
<tr><td>{{.Counts.Critical}}</td><td>{{.Counts.High}}</td><td>{{.Counts.Medium}}</td><td>{{.Counts.Low}}</td><td>{{.Counts.Info}}</td><td>{{.Counts.Total}}</td></tr>
</table>
{{range .Scan.Vulnerabilities}}
<section class="severity-{{.Severity}}">
<h2>{{.Title}} ({{.Severity}}, CVSS {{printf "%.1f" .CVSSScore}})</h2>
<p>{{.Description}}</p>
<p><strong>Recommendation:</strong> {{.Recommendation}}</p>
</section>
{{else}}
<p>No vulnerabilities detected.</p>
{{end}}
</body>
</html>
`))
