// Package statusserver exposes pipeline counters and the latest picture
// preview over HTTP, together with the pprof handlers.
package statusserver

import (
	"bytes"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/codec"
	"github.com/ugparu/gocedar/utils/logger"
	"github.com/ugparu/gocedar/utils/screenshoter"
)

// StatusFunc returns a JSON serializable status snapshot.
type StatusFunc func() any

// Server serves /status and /preview.jpg. It also observes the pipeline to
// keep the latest preview.
type Server struct {
	server    *http.Server
	router    *gin.Engine
	status    StatusFunc
	shot      screenshoter.Screenshoter
	startOnce *sync.Once
	closeOnce *sync.Once
	deadChan  chan any

	mu      sync.RWMutex
	packet  *codec.Packet // Latest MJPEG packet, a shared clone.
	preview []byte
}

// New returns a server listening on addr once started.
func New(addr string, status StatusFunc, shot screenshoter.Screenshoter) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	pprof.Register(router)

	s := &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
		router:    router,
		status:    status,
		shot:      shot,
		startOnce: &sync.Once{},
		closeOnce: &sync.Once{},
		deadChan:  make(chan any),
	}
	router.GET("/status", s.getStatus)
	router.GET("/preview.jpg", s.getPreview)
	logger.Debug(s, "Initialized and set up")
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Close. It blocks.
func (s *Server) Start() {
	err := errors.New("status server has been started already")
	s.startOnce.Do(func() {
		defer close(s.deadChan)

		logger.Infof(s, "Listening on %s", s.server.Addr)
		if err = s.server.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Warning(s, err.Error())
			}
			err = nil
		}
	})
	if err != nil {
		logger.Error(s, err.Error())
	}
}

// Close stops the listener and drops the preview.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		logger.Info(s, "Stopping and closing")
		if err := s.server.Close(); err != nil {
			logger.Warningf(s, "Can not close: %v", err)
		}
		s.setPreview(nil, nil)
	})
}

// Dead is closed when Start returns.
func (s *Server) Dead() <-chan any {
	return s.deadChan
}

// OnPacket keeps a reference to MJPEG packets as the preview.
func (s *Server) OnPacket(pkt *codec.Packet) {
	if pkt.Codec != gocedar.MJPEG {
		return
	}
	s.setPreview(pkt.Clone(false), nil)
}

// OnPicture renders a preview of a converted picture.
func (s *Server) OnPicture(pic *gocedar.Picture) {
	if s.shot == nil {
		return
	}
	data, err := s.shot.Screenshot(pic)
	if err != nil {
		logger.Warningf(s, "Can not render preview of %v: %v", pic, err)
		return
	}
	s.setPreview(nil, data)
}

func (s *Server) setPreview(pkt *codec.Packet, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.packet != nil {
		s.packet.Close()
	}
	s.packet, s.preview = pkt, data
}

// Preview returns a copy of the latest preview JPEG, nil before the first one.
func (s *Server) Preview() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.packet != nil {
		return bytes.Clone(s.packet.Data())
	}
	return s.preview
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) getPreview(c *gin.Context) {
	data := s.Preview()
	if data == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// String returns a string representation of the server.
func (s *Server) String() string {
	return "STATUS_SERVER"
}
