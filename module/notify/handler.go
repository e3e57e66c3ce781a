package notify

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	midsec "CRMProject/middleware/security"
	notifmodel "CRMProject/module/notify/model"
	"CRMProject/tools/decode"
	"CRMProject/tools/errs"

	"CRMProject/logger"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Handler 通知 REST 面。
type Handler struct {
	DB DB
}

func NewHandler(db DB) *Handler {
	return &Handler{DB: db}
}

// List GET /notifications?limit=
func (h *Handler) List(c *gin.Context) {
	p := midsec.PrincipalFrom(c)

	limit := int64(defaultListLimit)
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	list, err := h.DB.ListForUser(c.Request.Context(), p.ID, limit)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	for i := range list {
		normalizeData(&list[i])
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

// normalizeData 把 mention 的松散负载还原成规范形态（text/mentionedBy），
// 丢掉历史写入者夹带的多余键；还原不了就原样返回。
func normalizeData(n *notifmodel.Notification) {
	if n.Type != notifmodel.TypeMention || n.Data == nil {
		return
	}
	d, err := decode.DecodeMap[notifmodel.MentionData](n.Data)
	if err != nil {
		logger.Warnf("[notify] mention payload undecodable id=%s: %v", n.ID, err)
		return
	}
	n.Data = d.Map()
}

// MarkOneRead POST /notifications/:id/read
func (h *Handler) MarkOneRead(c *gin.Context) {
	p := midsec.PrincipalFrom(c)
	id := c.Param("id")

	if err := h.DB.MarkOneRead(c.Request.Context(), id, p.ID); err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// MarkAllRead POST /notifications/read-all
func (h *Handler) MarkAllRead(c *gin.Context) {
	p := midsec.PrincipalFrom(c)

	n, err := h.DB.MarkAllRead(c.Request.Context(), p.ID)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *Handler) writeErr(c *gin.Context, err error) {
	code := errs.Code(err)
	status := errs.HTTPStatus(code)
	if status == http.StatusInternalServerError {
		logger.Errorf("[notify] %s %s: %v", c.Request.Method, c.FullPath(), err)
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
