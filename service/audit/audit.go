package audit

import (
	"go.uber.org/zap"

	"CRMProject/logger"
)

// Record 一条审计记录；Data 的形态由动作决定。
type Record struct {
	ActorID string
	Action  string // message.send / message.mark_read / notification.read ...
	Data    map[string]any
}

// Sink 审计落地协作方。真正的落地（外部审计服务）在本核心之外，
// 默认实现走结构化日志。
type Sink interface {
	Write(rec Record)
}

type logSink struct{}

func NewLogSink() Sink { return &logSink{} }

func (logSink) Write(rec Record) {
	logger.Info("audit",
		zap.String("actor", rec.ActorID),
		zap.String("action", rec.Action),
		zap.Any("data", rec.Data),
	)
}
