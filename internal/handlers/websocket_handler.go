package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"polity/internal/middleware"
	"polity/internal/services"
	pkgerrors "polity/pkg/errors"
	"polity/pkg/jwt"
	"polity/pkg/logger"
	"polity/pkg/pubsub"
	"polity/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 300 * time.Second
	wsPingInterval = 60 * time.Second
)

// WebSocketHandler 推送租户的投票事件
type WebSocketHandler struct {
	upgrader   websocket.Upgrader
	redis      *pubsub.Redis
	jwtManager *jwt.JWTManager
	log        *logrus.Logger
}

// NewWebSocketHandler redis 为 nil 时接口不可用
func NewWebSocketHandler(redis *pubsub.Redis, jwtManager *jwt.JWTManager, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if allowed == "*" || matchOrigin(origin, allowed) {
						return true
					}
				}
				logger.GetLogger().Warnf("WebSocket连接被拒绝，非法Origin: %s", origin)
				return false
			},
			ReadBufferSize:  1024 * 4,
			WriteBufferSize: 1024 * 4,
		},
		redis:      redis,
		jwtManager: jwtManager,
		log:        logger.GetLogger(),
	}
}

// matchOrigin 支持 *.example.com 形式的通配
func matchOrigin(origin, allowed string) bool {
	if origin == allowed {
		return true
	}
	if strings.HasPrefix(allowed, "*.") {
		return strings.HasSuffix(origin, allowed[1:])
	}
	return false
}

// PollEvents 订阅当前租户的投票开始与结束事件
func (h *WebSocketHandler) PollEvents(c *gin.Context) {
	if h.redis == nil {
		response.Unavailable(c, "实时通知未启用")
		return
	}
	tenant := middleware.CurrentTenant(c)
	if tenant == nil {
		response.Error(c, pkgerrors.CodeTenantResolution, "无法识别当前租户")
		return
	}

	// WebSocket不支持自定义header，令牌从查询参数获取
	token := c.Query("token")
	if token == "" {
		response.Unauthorized(c, "缺少认证令牌")
		return
	}
	claims, err := h.jwtManager.VerifyToken(token)
	if err != nil {
		response.Unauthorized(c, "无效的令牌")
		return
	}
	if claims.TenantID != tenant.ID && !claims.IsPlatformAdmin {
		response.Unauthorized(c, "令牌不属于当前租户")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Error("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	h.log.WithFields(logrus.Fields{
		"tenant_id": tenant.ID,
		"user_id":   claims.UserID,
	}).Info("投票事件订阅已建立")

	h.forward(conn, services.TenantChannel(tenant.ID))
}

// forward 把频道消息转发给客户端，客户端断开或订阅失败时返回
func (h *WebSocketHandler) forward(conn *websocket.Conn, channel string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := h.redis.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		h.log.WithError(err).Error("订阅Redis频道失败")
		return
	}

	go h.readPump(conn, cancel)

	ch := sub.Channel()
	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !json.Valid([]byte(msg.Payload)) {
				h.log.WithField("channel", channel).Warn("忽略格式错误的通知")
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				h.log.WithError(err).Debug("发送通知失败，关闭连接")
				return
			}
		}
	}
}

// readPump 处理客户端消息（主要是pong），连接断开时取消订阅
func (h *WebSocketHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Warn("WebSocket unexpected close")
			}
			return
		}
	}
}
