package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	nanoid "github.com/jaevor/go-nanoid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/adapters/signal"
	"github.com/dkeye/meshcall/internal/app/relay"
	"github.com/dkeye/meshcall/internal/config"
	"github.com/dkeye/meshcall/internal/domain"
)

const (
	sessionName       = "MeshcallSessions"
	sessionDisplayKey = "display_name"
	roomIDAlphabet    = "abcdefghijkmnopqrstuvwxyz23456789"
	roomIDLength      = 10
)

type ProfileRequest struct {
	DisplayName string `json:"displayName"`
}

type ProfileResponse struct {
	DisplayName string `json:"displayName"`
}

type NewRoomResponse struct {
	RoomID domain.RoomID `json:"roomId"`
}

type ICEResponse struct {
	ICEServers []string `json:"iceServers"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, r *relay.Relay, ctrl *signal.SignalWSController) (*gin.Engine, error) {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	newRoomID, err := nanoid.CustomASCII(roomIDAlphabet, roomIDLength)
	if err != nil {
		return nil, fmt.Errorf("room id generator: %w", err)
	}

	e := gin.New()
	if cfg.Mode == "debug" {
		e.Use(gin.Logger())
	}
	e.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	e.Use(sessions.Sessions(sessionName, store))

	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:      "ok",
			Rooms:       r.Rooms.Len(),
			Connections: r.Conns.Len(),
		})
	})

	api := e.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c, displayName(sessions.Default(c)))
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, r.Rooms.List())
	})

	api.GET("/rooms/:id/members", func(c *gin.Context) {
		members := r.Rooms.Members(domain.RoomID(c.Param("id")))
		if len(members) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, members)
	})

	api.POST("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusCreated, NewRoomResponse{RoomID: domain.RoomID(newRoomID())})
	})

	api.GET("/ice", func(c *gin.Context) {
		c.JSON(http.StatusOK, ICEResponse{ICEServers: cfg.ICEServers})
	})

	api.GET("/profile", func(c *gin.Context) {
		c.JSON(http.StatusOK, ProfileResponse{DisplayName: displayName(sessions.Default(c))})
	})

	api.PUT("/profile", func(c *gin.Context) {
		var req ProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		name, err := domain.NormalizeDisplayName(req.DisplayName)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess := sessions.Default(c)
		sess.Set(sessionDisplayKey, name)
		if err := sess.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
			return
		}
		c.JSON(http.StatusOK, ProfileResponse{DisplayName: name})
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return e, nil
}

func displayName(s sessions.Session) string {
	name, _ := s.Get(sessionDisplayKey).(string)
	return name
}
