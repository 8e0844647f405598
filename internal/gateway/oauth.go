package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (h *handler) handleInstall(c *gin.Context) {
	if h.installer == nil {
		c.String(http.StatusNotFound, "install flow is not configured")
		return
	}
	c.Redirect(http.StatusFound, h.installer.AuthURL(uuid.NewString()))
}

func (h *handler) handleOAuth(c *gin.Context) {
	if h.installer == nil {
		c.String(http.StatusNotFound, "install flow is not configured")
		return
	}
	if e := c.Query("error"); e != "" {
		c.String(http.StatusBadRequest, "Registration was cancelled: "+e)
		return
	}
	code := c.Query("code")
	if code == "" {
		c.String(http.StatusBadRequest, "missing code")
		return
	}
	cred, err := h.installer.Complete(c.Request.Context(), code)
	if err != nil {
		h.log.Error("gateway: registration failed", "error", err)
		c.String(http.StatusBadGateway, "Registration failed.")
		return
	}
	h.log.Info("gateway: registered team", "team_id", cred.TeamID)
	c.String(http.StatusOK, "Registration was successful. You can try the command in Slack or send a direct message to the bot.")
}
