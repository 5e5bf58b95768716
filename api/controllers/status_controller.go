package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/docdrop/tool"
)

// ClientCounter reports how many notify websocket clients are connected.
type ClientCounter interface {
	Len() int
}

type StatusController struct {
	hub ClientCounter
}

func NewStatusController(hub ClientCounter) *StatusController {
	return &StatusController{hub: hub}
}

// HandleStatus returns server status for operators.
// GET /api/self/v1/status
func (ctrl *StatusController) HandleStatus(c *gin.Context) {
	cfg := tool.GetCurrentConfig()
	clients := 0
	if ctrl.hub != nil {
		clients = ctrl.hub.Len()
	}
	c.JSON(http.StatusOK, gin.H{
		"running":           true,
		"notify_ws_enabled": ctrl.hub != nil,
		"notify_clients":    clients,
		"session_store":     cfg.Sessions.Store,
		"blob_driver":       cfg.Blob.Driver,
	})
}

// HandleConfig returns the effective config in config.yaml form, secrets blanked.
// GET /api/self/v1/config
func (ctrl *StatusController) HandleConfig(c *gin.Context) {
	cfg := *tool.GetCurrentConfig()
	if cfg.Blob.Minio.SecretKey != "" {
		cfg.Blob.Minio.SecretKey = "******"
	}
	if cfg.Redis.Password != "" {
		cfg.Redis.Password = "******"
	}
	c.YAML(http.StatusOK, cfg)
}
