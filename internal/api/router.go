package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/notify"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
)

// RouterConfig carries what the router needs besides the handler.
type RouterConfig struct {
	CompanyID       string
	AllowedOrigins  []string
	RequestTimeout  time.Duration
	BroadcastWindow time.Duration
	Logger          *zap.Logger
}

// NewRouter builds the gin engine with every /api/v1 route. hub may be nil, in which
// case the websocket endpoint is not mounted.
func NewRouter(h *Handler, hub *notify.Hub, cfg RouterConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(Recovery(log), RequestID(), Logger(log), CORS(cfg.AllowedOrigins))

	api := r.Group("/api/v1")
	api.Use(Tenant(cfg.CompanyID))

	timed := api.Group("")
	timed.Use(Timeout(cfg.RequestTimeout))
	{
		timed.GET("/queue", h.GetQueue)
		timed.POST("/queue", h.QueueAction)

		timed.GET("/conversations/:id", h.GetConversation)
		timed.GET("/conversations/:id/transfers", h.ListTransfers)
		timed.POST("/conversations/:id/transfer", h.TransferAction)

		timed.GET("/leads/:id/scores", h.ListScores)
		timed.POST("/leads/:id/score", h.AdjustScore)

		timed.PUT("/agents/:agentId", h.UpsertAgent)

		timed.POST("/webhooks/messages", h.InboundWebhook)
	}

	// A broadcast of the full recipient list runs far longer than a normal request.
	broadcast := api.Group("/broadcast")
	broadcast.Use(Timeout(cfg.BroadcastWindow))
	broadcast.POST("/send", h.Broadcast)

	if hub != nil {
		notify.Upgrader.CheckOrigin = originChecker(cfg.AllowedOrigins)
		api.GET("/ws", serveWS(hub))
	}

	r.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "route not found", nil)
	})
	return r
}

func serveWS(hub *notify.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Query("agentId")
		if agentID == "" {
			Error(c, http.StatusBadRequest, "agentId is required", nil)
			return
		}
		if err := hub.ServeWS(c.Writer, c.Request, agentID); err != nil {
			// The upgrader has already written the HTTP error.
			c.Abort()
			logger.FromContext(c.Request.Context()).Debug("websocket upgrade failed", zap.Error(err))
		}
	}
}

// originChecker allows same-host requests and the configured origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}
