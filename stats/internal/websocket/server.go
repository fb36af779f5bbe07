package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/han-fei/stackmon/stats/internal/collector"
	"github.com/han-fei/stackmon/stats/internal/config"
	"github.com/han-fei/stackmon/stats/internal/models"
)

// 客户端消息类型
const (
	MessageSubscribe   = "subscribe"
	MessageUnsubscribe = "unsubscribe"
)

// clientMessage 浏览器发来的订阅请求
type clientMessage struct {
	Type  string `json:"type"`
	Stack string `json:"stack"`
}

// Client WebSocket客户端，同时是采集器的订阅者
type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	server   *Server
	logger   *zap.Logger
	mu       sync.Mutex
	closed   bool
	lastPong time.Time

	// stacks 只在readPump协程中访问
	stacks map[string]*collector.Collector
}

// Server WebSocket服务器
type Server struct {
	config     config.WebSocketConfig
	stacksDir  string
	directory  *collector.Directory
	logger     *zap.Logger
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
}

// NewServer 创建新的WebSocket服务器
func NewServer(cfg config.WebSocketConfig, stacksDir string, directory *collector.Directory, logger *zap.Logger) *Server {
	return &Server{
		config:     cfg,
		stacksDir:  stacksDir,
		directory:  directory,
		logger:     logger.Named("websocket"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Start 启动WebSocket服务器
func (s *Server) Start() {
	go s.run()
}

// Stop 停止WebSocket服务器并断开所有客户端
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.RLock()
		for client := range s.clients {
			client.close()
		}
		s.mu.RUnlock()
		close(s.done)
	})
}

// ClientCount 返回当前连接数
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HandleWebSocket 处理WebSocket连接
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("升级WebSocket连接失败", zap.Error(err))
		return
	}

	// 创建客户端
	id := uuid.NewString()
	client := &Client{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, s.config.BufferSize),
		server:   s,
		logger:   s.logger.With(zap.String("client", id)),
		lastPong: time.Now(),
		stacks:   make(map[string]*collector.Collector),
	}

	// 注册客户端，服务器已停止时直接断开
	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	// 启动读写协程
	go client.readPump()
	go client.writePump()
}

// run WebSocket服务器主循环
func (s *Server) run() {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			count := len(s.clients)
			s.mu.Unlock()
			client.logger.Debug("客户端已连接", zap.Int("clients", count))

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.shutdownSend()
			}
			count := len(s.clients)
			s.mu.Unlock()
			client.logger.Debug("客户端已断开", zap.Int("clients", count))

		case <-ticker.C:
			// 定期检查客户端心跳
			s.mu.RLock()
			for client := range s.clients {
				if client.sincePong() > s.config.PongTimeout {
					client.close()
				}
			}
			s.mu.RUnlock()
		}
	}
}

// ID 实现interfaces.Subscriber
func (c *Client) ID() string {
	return c.id
}

// Connected 实现interfaces.Subscriber
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Emit 实现interfaces.Subscriber，发送缓冲区满时丢弃本条消息
func (c *Client) Emit(event string, stack string, stats []models.ContainerStats) {
	// 序列化一次，入队时不阻塞采集器
	data, err := json.Marshal(models.StatsMessage{
		Type: event,
		Data: models.StatsEventData{StackName: stack, Stats: stats},
	})
	if err != nil {
		c.logger.Error("序列化统计数据失败", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Debug("客户端发送缓冲区已满，丢弃消息", zap.String("stack", stack))
	}
}

// readPump 读取客户端的订阅请求
func (c *Client) readPump() {
	defer func() {
		c.leaveAll()
		c.close()
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
	}()

	c.conn.SetReadLimit(c.server.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.server.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.server.config.PongTimeout))
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("读取WebSocket消息错误", zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("忽略无法解析的客户端消息", zap.Error(err))
			continue
		}
		c.handleMessage(msg)
	}
}

// handleMessage 处理订阅与取消订阅
func (c *Client) handleMessage(msg clientMessage) {
	switch msg.Type {
	case MessageSubscribe:
		// 校验堆栈名并解析工作目录
		workDir, err := collector.StackDir(c.server.stacksDir, msg.Stack)
		if err != nil {
			c.logger.Debug("拒绝订阅", zap.Error(err))
			return
		}
		col, err := c.server.directory.Acquire(msg.Stack, workDir, c)
		if err != nil {
			c.logger.Warn("订阅堆栈统计失败", zap.String("stack", msg.Stack), zap.Error(err))
			return
		}
		c.stacks[msg.Stack] = col

	case MessageUnsubscribe:
		// 未订阅的堆栈忽略
		if col, ok := c.stacks[msg.Stack]; ok {
			col.Leave(c)
			delete(c.stacks, msg.Stack)
		}

	default:
		c.logger.Debug("未知的客户端消息类型", zap.String("type", msg.Type))
	}
}

// leaveAll 离开所有已订阅的采集器
func (c *Client) leaveAll() {
	for name, col := range c.stacks {
		col.Leave(c)
		delete(c.stacks, name)
	}
}

// writePump 发送消息到客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(c.server.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if !ok {
				// 通道已关闭
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// sincePong 距离上次收到pong的时间
func (c *Client) sincePong() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastPong)
}

// close 关闭客户端连接，readPump随之退出并注销
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}

// shutdownSend 关闭发送通道，writePump随之退出
func (c *Client) shutdownSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	close(c.send)
}
