package chat

import (
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	midsec "CRMProject/middleware/security"
	chatservice "CRMProject/module/chat/service"
	"CRMProject/tools/errs"

	"CRMProject/logger"
)

// Handler 消息 REST 面。路由见 main.go。
type Handler struct {
	Msg *chatservice.MessagingService
}

func NewHandler(msg *chatservice.MessagingService) *Handler {
	return &Handler{Msg: msg}
}

// SendMessage POST /messages（multipart：receiver_id 必填，content/image/audio 可选）
func (h *Handler) SendMessage(c *gin.Context) {
	p := midsec.PrincipalFrom(c)

	in := chatservice.SendInput{
		ReceiverID:  c.PostForm("receiver_id"),
		Content:     c.PostForm("content"),
		ClientMsgID: c.PostForm("client_msg_id"),
	}

	att, closeFn, err := attachmentFrom(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	if closeFn != nil {
		defer closeFn()
	}
	in.Attachment = att

	m, err := h.Msg.Send(c.Request.Context(), p.ID, in)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": m})
}

// GetConversation GET /messages/:userId（副作用：对端发来的未读置已读）
func (h *Handler) GetConversation(c *gin.Context) {
	p := midsec.PrincipalFrom(c)
	other := c.Param("userId")

	list, err := h.Msg.FetchConversation(c.Request.Context(), p.ID, other)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": list})
}

// MarkConversationRead PUT /messages/:userId（只置位，不返回会话体）
func (h *Handler) MarkConversationRead(c *gin.Context) {
	p := midsec.PrincipalFrom(c)
	other := c.Param("userId")

	ids, err := h.Msg.MarkConversationRead(c.Request.Context(), p.ID, other)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_ids": ids})
}

// Contacts GET /messages/contacts
func (h *Handler) Contacts(c *gin.Context) {
	p := midsec.PrincipalFrom(c)

	list, err := h.Msg.Contacts(c.Request.Context(), p.ID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": list})
}

type typingReq struct {
	ReceiverID string `json:"receiver_id" binding:"required"`
}

// Typing POST /messages/typing（纯广播）
func (h *Handler) Typing(c *gin.Context) {
	p := midsec.PrincipalFrom(c)

	var req typingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, errs.ErrArgs.WrapMsg("receiver_id required"))
		return
	}
	if err := h.Msg.Typing(c.Request.Context(), p.ID, req.ReceiverID); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// attachmentFrom 最多一个附件：image 优先于 audio
func attachmentFrom(c *gin.Context) (*chatservice.Attachment, func(), error) {
	open := func(fh *multipart.FileHeader, kind string) (*chatservice.Attachment, func(), error) {
		f, err := fh.Open()
		if err != nil {
			return nil, nil, errs.ErrArgs.WrapMsg("open upload", "err", err)
		}
		name := uuid.NewString() + filepath.Ext(fh.Filename)
		return &chatservice.Attachment{
			Kind:        kind,
			Name:        name,
			ContentType: fh.Header.Get("Content-Type"),
			Reader:      f,
		}, func() { _ = f.Close() }, nil
	}

	if fh, err := c.FormFile("image"); err == nil && fh != nil {
		return open(fh, chatservice.AttachmentImage)
	}
	if fh, err := c.FormFile("audio"); err == nil && fh != nil {
		return open(fh, chatservice.AttachmentAudio)
	}
	return nil, nil, nil
}

// writeErr 业务错误转JSON；上游/内部错误不外漏细节
func writeErr(c *gin.Context, err error) {
	code := errs.Code(err)
	status := errs.HTTPStatus(code)
	if status == http.StatusInternalServerError {
		logger.Errorf("[chat] %s %s: %v", c.Request.Method, c.FullPath(), err)
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
