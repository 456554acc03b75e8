package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/yume-project/yume/internal/bancho"
	"github.com/yume-project/yume/internal/protocol"
)

const (
	maxBanchoBody = 1 << 20
	octetStream   = "application/octet-stream"
)

// handleBancho serves the client's poll. A request without an osu-token
// header is a login; otherwise the body is dispatched for the session and
// the response carries everything queued for it.
func (s *Server) handleBancho(c *gin.Context) {
	version := s.cfg.GetServer().ProtocolVersion
	c.Header("cho-protocol", strconv.Itoa(int(version)))

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBanchoBody))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	token := c.GetHeader("osu-token")
	if token == "" {
		s.banchoLogin(c, body, version)
		return
	}

	p, ok := s.deps.Presences.Get(token)
	if !ok {
		// The session is gone, usually after a restart; make the client log in again.
		c.Data(http.StatusOK, octetStream, protocol.EncodePackets(
			protocol.Notification("The server has restarted."),
			protocol.Restart(0),
		))
		return
	}

	// Dispatch logs framing errors itself; the decoded prefix was handled.
	_ = s.deps.Table.Dispatch(c.Request.Context(), body, p)
	c.Data(http.StatusOK, octetStream, protocol.EncodePackets(s.deps.Presences.Drain(p)...))
}

func (s *Server) banchoLogin(c *gin.Context, body []byte, version int32) {
	if !s.logins.Allow(c.ClientIP()) {
		log.Warn().Str("client_ip", c.ClientIP()).Msg("login rate limited")
		c.Header("cho-token", bancho.NoToken)
		c.Data(http.StatusOK, octetStream, protocol.EncodePackets(
			protocol.ProtocolVersion(version),
			protocol.LoginReply(protocol.LoginServerError),
			protocol.Notification("Too many login attempts, please wait a minute."),
		))
		return
	}

	token, resp := s.deps.Table.Login(c.Request.Context(), body)
	c.Header("cho-token", token)
	c.Data(http.StatusOK, octetStream, resp)
}

func (s *Server) handleBanchoIndex(c *gin.Context) {
	c.String(http.StatusOK, "yume bancho: %d online\n", s.deps.Presences.Count())
}
