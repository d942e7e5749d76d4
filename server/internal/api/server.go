package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"spotted/server/internal/config"
	"spotted/server/internal/feed"
	"spotted/server/internal/gateway"
	"spotted/server/internal/gesture"
	"spotted/server/internal/identity"
	"spotted/server/internal/model"
	"spotted/server/internal/paging"
	"spotted/server/internal/photostore"
	"spotted/server/internal/session"
	"spotted/server/internal/timeline"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	headerUserID   = "X-User-ID"
	headerUsername = "X-Username"
	identityKey    = "identity"
)

var errSignedOut = &feed.PermissionError{Action: "request", Reason: feed.ReasonSignedOut}

type Server struct {
	config  *config.Config
	photos  *photostore.Store
	viewers session.Store
	changes timeline.Store
	now     func() time.Time
	logger  *log.Logger

	// live 管理所有在线的查看实例 (viewerID -> Viewer)
	live   map[string]*gateway.Viewer
	liveMu sync.RWMutex

	// WebSocket upgrader
	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, photos *photostore.Store, viewers session.Store, changes timeline.Store, logger *log.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		config:  cfg,
		photos:  photos,
		viewers: viewers,
		changes: changes,
		now:     time.Now,
		logger:  logger,
		live:    make(map[string]*gateway.Viewer),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s
}

func (s *Server) Routes() http.Handler {
	// Gin 统一承载中间件与路由，便于扩展日志/鉴权/限流等能力。
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), s.corsMiddleware(), s.identityMiddleware())
	engine.GET("/healthz", s.handleHealthz)

	photos := engine.Group("/api/photos")
	photos.GET("", s.handleListPhotos)
	photos.POST("", s.handleCreatePhoto)
	photos.GET("/:id", s.handleGetPhoto)
	photos.DELETE("/:id", s.handleDeletePhoto)
	photos.POST("/:id/like", s.handleToggleLike)

	engine.GET("/api/changes", s.handleChanges)
	engine.GET("/api/viewers", s.handleListViewers)
	engine.POST("/api/viewers", s.handleCreateViewer)
	engine.GET("/api/viewers/:id/stream", s.handleViewerStream)
	return engine
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	s.liveMu.RLock()
	live := len(s.live)
	s.liveMu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "live_viewers": live})
}

// handleListPhotos 返回整个集合，最新优先。
func (s *Server) handleListPhotos(c *gin.Context) {
	photos, err := s.photos.GetAll(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, photos)
}

func (s *Server) handleGetPhoto(c *gin.Context) {
	photo, err := s.photos.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, photo)
}

type createPhotoRequest struct {
	URI  string   `json:"uri"`
	Tags []string `json:"tags"`
}

// handleCreatePhoto 是拍照流程的落点：owner 固定为调用者。
func (s *Server) handleCreatePhoto(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		s.writeError(c, errSignedOut)
		return
	}

	var req createPhotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	photo, err := s.photos.Add(c.Request.Context(), model.PhotoInput{
		URI:       req.URI,
		OwnerID:   user.ID,
		OwnerName: user.Username,
		Tags:      req.Tags,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, photo)
}

// handleDeletePhoto 只允许 owner 删除；权限检查在写入之前完成。
func (s *Server) handleDeletePhoto(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		s.writeError(c, errSignedOut)
		return
	}

	ctx := c.Request.Context()
	photo, err := s.photos.Get(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if photo.OwnerID != user.ID {
		s.writeError(c, &feed.PermissionError{Action: "delete", Reason: feed.ReasonNotOwner})
		return
	}

	if err := s.photos.Delete(ctx, photo.ID); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleToggleLike(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		s.writeError(c, errSignedOut)
		return
	}

	photo, err := s.photos.ToggleLike(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"photo":       photo,
		"liked_by_me": photo.LikedByUser(user.ID),
	})
}

// handleChanges 返回 seq 大于 after 的变更，供断线的客户端补齐。
func (s *Server) handleChanges(c *gin.Context) {
	if s.changes == nil {
		c.JSON(http.StatusOK, []model.Change{})
		return
	}

	var after int64
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after must be a non-negative integer"})
			return
		}
		after = v
	}

	changes, err := s.changes.Since(c.Request.Context(), s.photos.Key(), after)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, changes)
}

type viewerStatus struct {
	*model.ViewerSession
	Live bool `json:"live"`
}

// handleListViewers 返回已登记的查看实例及其是否在线。
func (s *Server) handleListViewers(c *gin.Context) {
	viewers, err := s.viewers.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.liveMu.RLock()
	out := make([]viewerStatus, 0, len(viewers))
	for _, vs := range viewers {
		_, live := s.live[vs.ViewerID]
		out = append(out, viewerStatus{ViewerSession: vs, Live: live})
	}
	s.liveMu.RUnlock()

	c.JSON(http.StatusOK, out)
}

// handleCreateViewer 为调用者登记一个查看实例，之后通过 stream 挂载。
func (s *Server) handleCreateViewer(c *gin.Context) {
	s.pruneViewers(c.Request.Context())

	vs := &model.ViewerSession{
		ViewerID:  uuid.New().String(),
		CreatedAt: s.now().UTC(),
	}
	if user := currentUser(c); user != nil {
		vs.UserID = user.ID
		vs.Username = user.Username
	}

	if err := s.viewers.Save(c.Request.Context(), vs); err != nil {
		s.logger.Printf("[API] ❌ save viewer failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save viewer failed"})
		return
	}

	s.logger.Printf("[API] viewer created: id=%s user=%s", vs.ViewerID, vs.UserID)
	c.JSON(http.StatusCreated, model.CreateViewerResponse{ViewerID: vs.ViewerID})
}

// handleViewerStream 升级 WebSocket，挂载信息流并阻塞到连接关闭
func (s *Server) handleViewerStream(c *gin.Context) {
	viewerID := c.Param("id")
	s.logger.Printf("[API] 📞 WebSocket connection request for viewer: %s (remote=%s)", viewerID, c.Request.RemoteAddr)

	vs, err := s.viewers.Get(c.Request.Context(), viewerID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.liveMu.RLock()
	_, busy := s.live[viewerID]
	s.liveMu.RUnlock()
	if busy {
		c.JSON(http.StatusConflict, gin.H{"error": "viewer already streaming"})
		return
	}

	clientConn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Printf("[API] ❌ Failed to upgrade websocket: %v", err)
		return
	}

	var user *model.User
	if vs.UserID != "" {
		user = &model.User{ID: vs.UserID, Username: vs.Username}
	}
	viewer := gateway.NewViewer(viewerID, clientConn, s.photos, identity.NewSession(user), s.viewerConfig(), s.logger)

	s.liveMu.Lock()
	if _, exists := s.live[viewerID]; exists {
		s.liveMu.Unlock()
		s.logger.Printf("[API] ⚠️  viewer %s connected twice, closing newer stream", viewerID)
		_ = viewer.Close()
		return
	}
	s.live[viewerID] = viewer
	liveCount := len(s.live)
	s.liveMu.Unlock()
	s.logger.Printf("[API] Viewer registered (total live: %d)", liveCount)

	defer func() {
		s.liveMu.Lock()
		delete(s.live, viewerID)
		remaining := len(s.live)
		s.liveMu.Unlock()
		_ = viewer.Close()
		// 连接结束后登记随之失效，重连需要重新创建
		if err := s.viewers.Delete(context.Background(), viewerID); err != nil {
			s.logger.Printf("[API] ⚠️  delete viewer session %s failed: %v", viewerID, err)
		}
		s.logger.Printf("[API] 🔌 Viewer closed: %s (remaining: %d)", viewerID, remaining)
	}()

	if err := viewer.Start(context.Background()); err != nil {
		s.logger.Printf("[API] ❌ Failed to start viewer: %v", err)
		return
	}

	// 阻塞直到连接关闭
	<-viewer.Done()
}

// pruneViewers 删除超过 ViewerTTL 仍未连接的登记
func (s *Server) pruneViewers(ctx context.Context) {
	viewers, err := s.viewers.List(ctx)
	if err != nil {
		s.logger.Printf("[API] ⚠️  list viewers failed: %v", err)
		return
	}

	cutoff := s.now().UTC().Add(-s.config.Gateway.ViewerTTL)
	for _, vs := range viewers {
		if !vs.CreatedAt.Before(cutoff) {
			continue
		}
		s.liveMu.RLock()
		_, live := s.live[vs.ViewerID]
		s.liveMu.RUnlock()
		if live {
			continue
		}
		if err := s.viewers.Delete(ctx, vs.ViewerID); err != nil {
			s.logger.Printf("[API] ⚠️  expire viewer %s failed: %v", vs.ViewerID, err)
			continue
		}
		s.logger.Printf("[API] viewer expired: id=%s", vs.ViewerID)
	}
}

// Close 关闭所有在线的查看实例
func (s *Server) Close() {
	s.liveMu.Lock()
	viewers := make([]*gateway.Viewer, 0, len(s.live))
	for _, v := range s.live {
		viewers = append(viewers, v)
	}
	s.liveMu.Unlock()

	for _, v := range viewers {
		_ = v.Close()
	}
}

func (s *Server) viewerConfig() gateway.ViewerConfig {
	cfg := s.config
	return gateway.ViewerConfig{
		FrameInterval: cfg.Gateway.FrameInterval,
		WriteTimeout:  cfg.Gateway.WriteTimeout,
		PingInterval:  cfg.Gateway.PingInterval,
		Feed: feed.Options{
			Gesture: gesture.Config{
				TapWindow:         cfg.Gesture.TapWindow,
				DistanceRatio:     cfg.Gesture.DistanceRatio,
				VelocityThreshold: cfg.Gesture.VelocityThreshold,
				VelocityWindow:    cfg.Gesture.VelocityWindow,
			},
			Paging: paging.Config{
				RubberBandRatio: cfg.Paging.RubberBandRatio,
				CommitDuration:  cfg.Paging.CommitDuration,
				SettleTau:       cfg.Paging.SettleTau,
			},
			LikeBurst: cfg.Feed.LikeBurst,
			Viewport:  cfg.Feed.DefaultViewport,
		},
	}
}

// writeError 把领域错误映射成 HTTP 状态码
func (s *Server) writeError(c *gin.Context, err error) {
	var perr *feed.PermissionError
	switch {
	case errors.As(err, &perr) && perr.Reason == feed.ReasonSignedOut:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sign in required"})
	case errors.Is(err, feed.ErrPermission):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, photostore.ErrPhotoNotFound), errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, photostore.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Printf("[API] ❌ %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
	}
}

// identityMiddleware 把请求头里的身份解析为本次请求的会话
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var user *model.User
		if id := strings.TrimSpace(c.GetHeader(headerUserID)); id != "" {
			user = &model.User{ID: id, Username: strings.TrimSpace(c.GetHeader(headerUsername))}
		}
		c.Set(identityKey, identity.NewSession(user))
		c.Next()
	}
}

func currentUser(c *gin.Context) *model.User {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	p, ok := v.(identity.Provider)
	if !ok {
		return nil
	}
	return p.CurrentUser()
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.config.Server.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		// 开发期：允许本地 Vite；线上通过 server.allowed_origins 配置白名单。
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, X-Username")
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
