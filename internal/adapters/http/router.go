package http

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nakkag/webrtc-mesh/internal/adapters/signal"
	"github.com/nakkag/webrtc-mesh/internal/app"
	"github.com/nakkag/webrtc-mesh/internal/config"
	"github.com/nakkag/webrtc-mesh/internal/domain"
)

func SetupRouter(ctx context.Context, cfg *config.Config, rt *app.Router) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	ctrl := signal.NewSignalWSController(rt, cfg.PingPeriod, cfg.ReadLimit, cfg.SendBuffer)
	ws := func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c.Writer, c.Request)
	}

	static := staticHandler(cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		if websocket.IsWebSocketUpgrade(c.Request) {
			ws(c)
			return
		}
		static(c)
	})
	r.GET("/ws", ws)

	api := r.Group("/api")
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, rt.Registry.Rooms())
	})
	api.GET("/rooms/:name/members", func(c *gin.Context) {
		name := domain.RoomName(c.Param("name"))
		c.JSON(http.StatusOK, gin.H{
			"room":    name,
			"members": rt.Registry.Members(name),
		})
	})
	api.GET("/ice-servers", func(c *gin.Context) {
		servers := cfg.ICEServers
		if servers == nil {
			servers = []config.ICEServer{}
		}
		c.JSON(http.StatusOK, gin.H{"ice_servers": servers})
	})

	r.NoRoute(static)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}

// staticHandler serves files under root. Directories resolve to their index.html.
func staticHandler(root string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Status(http.StatusNotFound)
			return
		}
		rel := path.Clean("/" + c.Request.URL.Path)
		file := filepath.Join(root, filepath.FromSlash(rel))

		info, err := os.Stat(file)
		if err == nil && info.IsDir() {
			file = filepath.Join(file, "index.html")
			info, err = os.Stat(file)
		}
		if err != nil || info.IsDir() {
			c.String(http.StatusNotFound, "404 Not Found")
			return
		}
		c.File(file)
	}
}
