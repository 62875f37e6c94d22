// Package admin is the HTTP control surface: discovery and session
// controls for every device, plus the coordinator's catalog and order book
// or the terminal's cart, depending on the role.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"cafesync/internal/cluster"
	"cafesync/internal/model"
	"cafesync/internal/role"
)

// Controls is the operator side of the sync engine.
type Controls interface {
	Status() cluster.Status
	StartAdvertise() error
	StopAdvertise()
	StartBrowse() error
	StopBrowse()
	DisconnectAll()
	Restart()
	ForceRestart()
	ClearError()
}

type Server struct {
	ctl   Controls
	coord *role.Coordinator
	term  *role.Terminal
	log   zerolog.Logger
	r     *gin.Engine
}

// New builds the router. Exactly one of coord and term is expected; the
// other is nil.
func New(ctl Controls, coord *role.Coordinator, term *role.Terminal, log zerolog.Logger) *Server {
	s := &Server{ctl: ctl, coord: coord, term: term, log: log.With().Str("component", "admin").Logger()}
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog)

	r.GET("/status", s.status)
	r.POST("/discovery/advertise/start", s.startAdvertise)
	r.POST("/discovery/advertise/stop", s.do(ctl.StopAdvertise))
	r.POST("/discovery/browse/start", s.startBrowse)
	r.POST("/discovery/browse/stop", s.do(ctl.StopBrowse))
	r.POST("/discovery/restart", s.do(ctl.Restart))
	r.POST("/discovery/force-restart", s.do(ctl.ForceRestart))
	r.POST("/peers/disconnect", s.do(ctl.DisconnectAll))
	r.POST("/errors/clear", s.do(ctl.ClearError))

	if coord != nil {
		s.coordinatorRoutes(r)
	}
	if term != nil {
		s.terminalRoutes(r)
	}
	s.r = r
	return s
}

func (s *Server) Handler() http.Handler { return s.r }

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	s.log.Info().Str("addr", addr).Msg("http control api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug().
		Str("method", c.Request.Method).
		Str("path", c.FullPath()).
		Int("status", c.Writer.Status()).
		Dur("took", time.Since(start)).
		Msg("request")
}

func (s *Server) do(fn func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		fn()
		c.JSON(http.StatusAccepted, gin.H{"message": "ok"})
	}
}

type discoveryView struct {
	Advertising bool   `json:"advertising"`
	Browsing    bool   `json:"browsing"`
	Reachable   bool   `json:"reachable"`
	Pending     bool   `json:"pending"`
	LastError   string `json:"last_error,omitempty"`
	Retryable   bool   `json:"retryable,omitempty"`
}

type statusView struct {
	cluster.Status
	Discovery discoveryView `json:"discovery"`
	LastError string        `json:"last_error,omitempty"`
}

func (s *Server) status(c *gin.Context) {
	st := s.ctl.Status()
	v := statusView{Status: st, Discovery: discoveryView{
		Advertising: st.Discovery.Advertising,
		Browsing:    st.Discovery.Browsing,
		Reachable:   st.Discovery.Reachable,
		Pending:     st.Discovery.Pending,
	}}
	if err := st.Discovery.LastError; err != nil {
		v.Discovery.LastError = err.Error()
		var se interface{ Retryable() bool }
		v.Discovery.Retryable = errors.As(err, &se) && se.Retryable()
	}
	if st.LastError != nil {
		v.LastError = st.LastError.Error()
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) startAdvertise(c *gin.Context) {
	if err := s.ctl.StartAdvertise(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "ok"})
}

func (s *Server) startBrowse(c *gin.Context) {
	if err := s.ctl.StartBrowse(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "ok"})
}

// fail maps domain errors to status codes.
func fail(c *gin.Context, err error) {
	code := http.StatusBadRequest
	switch {
	case role.IsNotFound(err):
		code = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrUnavailable):
		code = http.StatusConflict
	case errors.Is(err, cluster.ErrNoPeers):
		code = http.StatusServiceUnavailable
	}
	var se interface{ Retryable() bool }
	if errors.As(err, &se) && se.Retryable() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
