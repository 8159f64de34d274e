package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"pulsegate/pkg/logging"
	"pulsegate/pkg/producer"
)

// JSErrorPath is where the browser script posts errors.
const JSErrorPath = "/pulsegate/javascript-errors"

// SessionHeader optionally carries the browser's session id.
const SessionHeader = "X-Session-Id"

type response struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// HTTPServer serves the browser error endpoint, health and metrics.
type HTTPServer struct {
	addr   string
	router *gin.Engine
	js     *producer.JSErrorCollector
	panics *producer.ErrorReporter
	log    *logrus.Entry
}

// NewHTTPServer wires the routes. gatherer may be nil to use the default
// Prometheus registry.
func NewHTTPServer(addr string, js *producer.JSErrorCollector, gatherer prometheus.Gatherer, log logrus.FieldLogger) *HTTPServer {
	registerJSONNames()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &HTTPServer{
		addr:   addr,
		router: gin.New(),
		js:     js,
		log:    logging.Component(log, "ingest_http"),
	}
	s.router.Use(gin.CustomRecovery(s.recoverPanic))
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	s.router.POST(JSErrorPath, s.handleJSError)
	return s
}

// Handler exposes the router, e.g. for tests or to mount elsewhere.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// ReportPanics sends handler panics to the error reporter in addition to
// the internal log.
func (s *HTTPServer) ReportPanics(r *producer.ErrorReporter) {
	s.panics = r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.addr).Info("HTTP ingest listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http ingest: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http ingest shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http ingest: %w", err)
	}
	return nil
}

func (s *HTTPServer) recoverPanic(c *gin.Context, rec any) {
	err, ok := rec.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", rec)
	}
	s.log.WithError(err).WithField("path", c.Request.URL.Path).Error("Handler panic")
	if s.panics != nil {
		s.panics.Report(c.Request.Context(), err, c.Request)
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, response{Message: "Internal error"})
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *HTTPServer) handleJSError(c *gin.Context) {
	if !s.js.Enabled() {
		c.JSON(http.StatusForbidden, response{Message: "JavaScript error tracking is not enabled"})
		return
	}

	var rep producer.JSErrorReport
	if err := c.ShouldBindJSON(&rep); err != nil {
		s.log.WithError(err).Debug("Rejected JavaScript error report")
		c.JSON(http.StatusUnprocessableEntity, response{
			Message: "Validation failed",
			Errors:  validationErrors(err),
		})
		return
	}

	meta := producer.JSMeta{
		UserAgent: c.Request.UserAgent(),
		Referer:   c.Request.Referer(),
		SessionID: c.GetHeader(SessionHeader),
	}
	switch out := s.js.Capture(c.Request.Context(), rep, meta); out {
	case producer.Accepted:
		c.JSON(http.StatusOK, response{Success: true, Message: "Error received"})
	case producer.Ignored:
		c.JSON(http.StatusOK, response{Success: true, Message: "Error ignored based on pattern"})
	case producer.SampledOut:
		c.JSON(http.StatusOK, response{Success: true, Message: "Error sampled out"})
	case producer.Rejected:
		c.JSON(http.StatusForbidden, response{Message: "JavaScript error tracking is not enabled"})
	default:
		c.JSON(http.StatusInternalServerError, response{Message: "Failed to process error"})
	}
}

// VisitMiddleware records page visits for every request passing through
// a host application's gin router.
func VisitMiddleware(v *producer.VisitTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		v.Track(c.Request.Context(), c.Request)
		c.Next()
	}
}

var indexSegment = regexp.MustCompile(`\[(\d+)\]`)

// validationErrors maps binding failures to field paths such as
// "breadcrumbs.0.message".
func validationErrors(err error) map[string][]string {
	out := make(map[string][]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["body"] = []string{err.Error()}
		return out
	}
	for _, fe := range verrs {
		ns := fe.Namespace()
		if _, rest, ok := strings.Cut(ns, "."); ok {
			ns = rest
		}
		field := indexSegment.ReplaceAllString(ns, ".$1")
		out[field] = append(out[field], ruleMessage(field, fe))
	}
	return out
}

func ruleMessage(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", field)
	case "max":
		return fmt.Sprintf("The %s field must not be greater than %s characters.", field, fe.Param())
	}
	return fmt.Sprintf("The %s field failed the %s rule.", field, fe.Tag())
}

var registerOnce sync.Once

// registerJSONNames makes validation errors report json field names.
func registerJSONNames() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
}
