// HTTP服务：connect-RPC服务注册、事件推送websocket与健康检查
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/green-corridor/utils/config"
	"github.com/tsinghua-fib-lab/green-corridor/utils/rpc"
)

const shutdownTimeout = 5 * time.Second

// Server HTTP服务
// 功能：以路径前缀挂载各RPC服务，提供/ws/events事件推送与/healthz健康检查
// 说明：实现rpc.Registrar，各管理器通过Register方法注册自身服务
type Server struct {
	cfg    config.Server
	router *mux.Router
	hub    *Hub
	srv    *http.Server
	access *io.PipeWriter

	services []string
	health   func() any
}

// New 创建HTTP服务
// 参数：cfg-监听地址与CORS允许的来源，health-健康检查返回的状态（可为nil）
func New(cfg config.Server, health func() any) *Server {
	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		hub:      NewHub(cfg.AllowedOrigins),
		access:   log.WriterLevel(logrus.DebugLevel),
		services: make([]string, 0),
		health:   health,
	}
	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	s.router.Handle("/ws/events", s.hub)
	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Register 注册RPC服务
func (s *Server) Register(serviceName string, fn func(opts ...connect.HandlerOption) (pattern string, handler http.Handler)) {
	pattern, handler := fn(rpc.Options()...)
	s.router.PathPrefix(pattern).Handler(handler)
	s.services = append(s.services, serviceName)
	log.Infof("register service %s at %s", serviceName, pattern)
}

// Hub 事件推送中心
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler 带中间件的完整处理器
// 说明：由外到内依次为panic恢复、访问日志、CORS
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	var h http.Handler = s.router
	h = handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Connect-Protocol-Version", "Connect-Timeout-Ms"}),
	)(h)
	h = handlers.CombinedLoggingHandler(s.access, h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(log), handlers.PrintRecoveryStack(true))(h)
	return h
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":   "ok",
		"services": s.services,
		"clients":  s.hub.Clients(),
	}
	if s.health != nil {
		body["state"] = s.health()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warnf("write healthz: %v", err)
	}
}

// Serve 阻塞地提供服务，Close后返回nil
func (s *Server) Serve() error {
	log.Infof("listen on %s", s.cfg.Listen)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close 优雅关闭
func (s *Server) Close() {
	s.hub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Warnf("shutdown: %v", err)
	}
	s.access.Close()
}
