package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/han-fei/stackmon/stats/internal/collector"
)

// Version 服务版本
const Version = "1.0.0"

// ClientCounter 报告当前的WebSocket连接数
type ClientCounter interface {
	ClientCount() int
}

// APIHandler API处理器
type APIHandler struct {
	directory *collector.Directory
	clients   ClientCounter
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
}

// NewAPIHandler 创建API处理器
func NewAPIHandler(directory *collector.Directory, clients ClientCounter, gatherer prometheus.Gatherer, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		directory: directory,
		clients:   clients,
		gatherer:  gatherer,
		logger:    logger.Named("api"),
	}
}

// RegisterRoutes 注册API路由
func (h *APIHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/status", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/stacks", h.handleListStacks).Methods(http.MethodGet)
	r.HandleFunc("/api/stacks/{name}", h.handleGetStack).Methods(http.MethodGet)
	r.HandleFunc("/api/stacks/{name}", h.handleStopStack).Methods(http.MethodDelete)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// handleStatus 服务状态
func (h *APIHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "running",
		"version":    Version,
		"collectors": h.directory.Len(),
		"clients":    h.clients.ClientCount(),
	})
}

// handleListStacks 列出所有采集器
func (h *APIHandler) handleListStacks(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.directory.List())
}

// handleGetStack 查询单个采集器
func (h *APIHandler) handleGetStack(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	c, ok := h.directory.Get(name)
	if !ok {
		h.writeError(w, http.StatusNotFound, "stack not found")
		return
	}
	h.writeJSON(w, http.StatusOK, c.Info())
}

// handleStopStack 强制停止采集器
func (h *APIHandler) handleStopStack(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	c, ok := h.directory.Get(name)
	if !ok {
		h.writeError(w, http.StatusNotFound, "stack not found")
		return
	}
	c.Stop()
	h.logger.Info("通过API停止采集器", zap.String("stack", name))
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("写入响应失败", zap.Error(err))
	}
}
