package user

import (
	"net/http"

	"github.com/gin-gonic/gin"

	userservice "CRMProject/module/user/service"
	"CRMProject/service/transport"
	"CRMProject/tools/errs"

	"CRMProject/logger"
)

// Handler 登录与在线视图。
type Handler struct {
	Auth    *userservice.AuthService
	Tracker *transport.Tracker
}

func NewHandler(auth *userservice.AuthService, tracker *transport.Tracker) *Handler {
	return &Handler{Auth: auth, Tracker: tracker}
}

type loginReq struct {
	Email string `json:"email" binding:"required"`
}

// Login POST /login
func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeErr(c, errs.ErrArgs.WrapMsg("email required"))
		return
	}
	res, err := h.Auth.Login(c.Request.Context(), req.Email)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// OnlineUsers GET /presence
// 权威在线集来自传输层 sync 快照，不查 redis。
func (h *Handler) OnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": h.Tracker.OnlineUsers()})
}

func (h *Handler) writeErr(c *gin.Context, err error) {
	code := errs.Code(err)
	status := errs.HTTPStatus(code)
	if status == http.StatusInternalServerError {
		logger.Errorf("[user] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, errs.NewCodeError(code, "internal error"))
		return
	}
	var ce *errs.CodeError
	if e, ok := errs.Unwrap(err).(*errs.CodeError); ok {
		ce = e
	} else {
		ce = errs.NewCodeError(code, err.Error())
	}
	c.JSON(status, ce)
}
