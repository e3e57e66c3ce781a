package service

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"time"

	"CRMProject/module/chat/message"
	chatmodel "CRMProject/module/chat/model"
	"CRMProject/module/notify"
	notifmodel "CRMProject/module/notify/model"
	"CRMProject/module/user"
	"CRMProject/service/audit"
	"CRMProject/service/blob"
	"CRMProject/service/transport"
	"CRMProject/tools/errs"
	"CRMProject/tools/safe"

	"CRMProject/logger"
)

// 附件类型
const (
	AttachmentImage = "image"
	AttachmentAudio = "audio"
)

type Attachment struct {
	Kind        string // image / audio
	Name        string
	ContentType string
	Reader      io.Reader
}

type SendInput struct {
	ReceiverID  string
	Content     string
	ClientMsgID string
	Attachment  *Attachment
}

// LastSeener 联系人列表的最后在线时间来源（redis 登记；可为 nil）。
type LastSeener interface {
	LastSeen(ctx context.Context, user string) (*time.Time, error)
}

// MentionDispatcher 消息正文里的 @提及旁路（可为 nil）。
type MentionDispatcher interface {
	Dispatch(ctx context.Context, authorID, authorName, text string, ref notify.ContentRef) []notifmodel.Notification
}

// MessagingService 组合存储/目录/传输/对象存储。
// 不变式：先持久化，后尽力而为广播——广播失败只记日志，
// 绝不反过来让一次已落库的发送对客户端报错。
type MessagingService struct {
	DB       message.DB
	Dir      user.Directory
	Bus      transport.Transport
	Blob     blob.Storage
	LastSeen LastSeener
	Audit    audit.Sink
	Mentions MentionDispatcher
}

func NewMessagingService(db message.DB, dir user.Directory, bus transport.Transport, store blob.Storage, ls LastSeener, sink audit.Sink) *MessagingService {
	safe.MustNotNil(db, "message db")
	safe.MustNotNil(dir, "user directory")
	safe.MustNotNil(bus, "transport")
	return &MessagingService{DB: db, Dir: dir, Bus: bus, Blob: store, LastSeen: ls, Audit: sink}
}

// Send 持久化一条消息并向接收者频道广播 MessageSent。
func (s *MessagingService) Send(ctx context.Context, senderID string, in SendInput) (*chatmodel.Message, error) {
	if in.ReceiverID == "" {
		return nil, errs.ErrArgs.WrapMsg("receiver_id required")
	}
	if in.Content == "" && in.Attachment == nil {
		return nil, errs.ErrArgs.WrapMsg("content or attachment required")
	}
	if err := s.checkCounterparty(ctx, in.ReceiverID); err != nil {
		return nil, err
	}

	create := message.CreateInput{
		SenderID:    senderID,
		ReceiverID:  in.ReceiverID,
		Content:     in.Content,
		ClientMsgID: in.ClientMsgID,
	}

	// 附件先换URL再落库；上传失败发送失败（Upstream）
	if in.Attachment != nil {
		if s.Blob == nil {
			return nil, errs.ErrUpstream.WrapMsg("blob storage unavailable")
		}
		url, err := s.Blob.Put(ctx, in.Attachment.Name, in.Attachment.ContentType, in.Attachment.Reader)
		if err != nil {
			return nil, err
		}
		switch in.Attachment.Kind {
		case AttachmentImage:
			create.ImageURL = url
		case AttachmentAudio:
			create.AudioURL = url
		default:
			return nil, errs.ErrArgs.WrapMsg("unknown attachment kind", "kind", in.Attachment.Kind)
		}
	}

	m, err := s.DB.Create(ctx, create)
	if err != nil {
		return nil, err
	}

	s.publish(transport.ChatChannel(m.ReceiverID), chatmodel.EventMessageSent,
		chatmodel.MessageSentPayload{Message: *m})
	s.dispatchMentions(ctx, senderID, m.Content)
	s.auditWrite(senderID, "message.send", map[string]any{
		"message_id": m.ID, "receiver_id": m.ReceiverID,
	})
	return m, nil
}

// dispatchMentions 正文里的 @提及走通知旁路；与发送同步执行但纯属
// 尽力而为，失败不影响已落库的消息。
func (s *MessagingService) dispatchMentions(ctx context.Context, senderID, content string) {
	if s.Mentions == nil || content == "" {
		return
	}
	name := senderID
	if u, err := s.Dir.GetByID(ctx, senderID); err != nil {
		logger.Warnf("[mention] author lookup failed for %s: %v", senderID, err)
	} else if u != nil {
		name = u.Name
	}
	s.Mentions.Dispatch(ctx, senderID, name, content, notify.ContentRef{})
}

// FetchConversation 返回双向全量会话；副作用：把对端发来的未读置已读，
// 并向对端频道广播 MessageRead 回执（仅当确有置位）。
func (s *MessagingService) FetchConversation(ctx context.Context, callerID, otherID string) ([]chatmodel.Message, error) {
	if err := s.checkCounterparty(ctx, otherID); err != nil {
		return nil, err
	}
	ids, err := s.DB.UnreadFrom(ctx, otherID, callerID)
	if err != nil {
		return nil, err
	}
	list, err := s.DB.ListConversation(ctx, callerID, otherID)
	if err != nil {
		return nil, err
	}
	if err := s.markAndNotify(ctx, callerID, otherID, ids); err != nil {
		return nil, err
	}
	// 返回视图同步已读态（存储已置位，避免再读一遍）
	if len(ids) > 0 {
		now := time.Now()
		want := make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			want[id] = struct{}{}
		}
		for i := range list {
			if _, ok := want[list[i].ID]; ok && list[i].ReadAt == nil {
				t := now
				list[i].ReadAt = &t
			}
		}
	}
	return list, nil
}

// MarkConversationRead 显式回执：只置位不拉取，返回本次置位的ID集。
func (s *MessagingService) MarkConversationRead(ctx context.Context, callerID, otherID string) ([]int64, error) {
	if err := s.checkCounterparty(ctx, otherID); err != nil {
		return nil, err
	}
	ids, err := s.DB.UnreadFrom(ctx, otherID, callerID)
	if err != nil {
		return nil, err
	}
	if err := s.markAndNotify(ctx, callerID, otherID, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *MessagingService) markAndNotify(ctx context.Context, callerID, otherID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	n, err := s.DB.MarkRead(ctx, ids)
	if err != nil {
		return err
	}
	if n > 0 {
		s.publish(transport.ChatChannel(otherID), chatmodel.EventMessageRead,
			chatmodel.MessageReadPayload{ReaderID: callerID, MessageIDs: ids})
		s.auditWrite(callerID, "message.mark_read", map[string]any{
			"peer_id": otherID, "count": n,
		})
	}
	return nil
}

// Contacts 所有其他用户 + 未读数/最近消息/最后在线。
// 有历史的在前（最近消息时间倒序），没历史的在后。
func (s *MessagingService) Contacts(ctx context.Context, callerID string) ([]chatmodel.Contact, error) {
	users, err := s.Dir.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]chatmodel.Contact, 0, len(users))
	for _, u := range users {
		if u.UserID == callerID {
			continue
		}
		c := chatmodel.Contact{
			UserID:  u.UserID,
			Name:    u.Name,
			Pole:    u.Pole,
			FaceURL: u.FaceURL,
		}
		if c.UnreadCount, err = s.DB.CountUnreadFrom(ctx, u.UserID, callerID); err != nil {
			return nil, err
		}
		if c.LastMessage, err = s.DB.LastMessageBetween(ctx, callerID, u.UserID); err != nil {
			return nil, err
		}
		if s.LastSeen != nil {
			if ls, err := s.LastSeen.LastSeen(ctx, u.UserID); err != nil {
				logger.Warnf("[contacts] last seen lookup failed for %s: %v", u.UserID, err)
			} else {
				c.LastSeen = ls
			}
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		mi, mj := out[i].LastMessage, out[j].LastMessage
		switch {
		case mi != nil && mj != nil:
			return mi.CreatedAt.After(mj.CreatedAt)
		case mi != nil:
			return true
		default:
			return false
		}
	})
	return out, nil
}

// Typing 纯广播，不落库。
func (s *MessagingService) Typing(ctx context.Context, senderID, receiverID string) error {
	if err := s.checkCounterparty(ctx, receiverID); err != nil {
		return err
	}
	s.publish(transport.ChatChannel(receiverID), chatmodel.EventUserTyping,
		chatmodel.UserTypingPayload{SenderID: senderID})
	return nil
}

func (s *MessagingService) checkCounterparty(ctx context.Context, userID string) error {
	if userID == "" {
		return errs.ErrArgs.WrapMsg("user id required")
	}
	u, err := s.Dir.GetByID(ctx, userID)
	if err != nil {
		if errs.ErrRecordNotFound.Is(err) {
			return errs.ErrArgs.WrapMsg("unknown user", "user_id", userID)
		}
		return err
	}
	if u == nil {
		return errs.ErrArgs.WrapMsg("unknown user", "user_id", userID)
	}
	return nil
}

// publish 尽力而为但同步：Hub/NATS 的 Publish 本身不阻塞，串行调用
// 才保得住同频道的发布顺序；失败只记日志，绝不让已落库的写操作报错。
func (s *MessagingService) publish(channel, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("[publish] marshal %s: %v", event, err)
		return
	}
	if err := s.Bus.Publish(channel, event, data); err != nil {
		logger.Warnf("[publish] %s on %s failed: %v", event, channel, err)
	}
}

func (s *MessagingService) auditWrite(actor, action string, data map[string]any) {
	if s.Audit != nil {
		s.Audit.Write(audit.Record{ActorID: actor, Action: action, Data: data})
	}
}
