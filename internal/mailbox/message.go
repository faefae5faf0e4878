package mailbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultType 是未指定类型的消息被分发时使用的类型标签。
const DefaultType = "default"

// Message 是智能体之间传递的最小消息单元，创建后不再修改。
type Message struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	From      string `json:"from"`
	CreatedAt int64  `json:"created_at"`
}

// NewMessage 构造一条带唯一 ID 与创建时间的消息。
func NewMessage(msgType, content, from string) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Content:   content,
		From:      from,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// RouteType 返回用于查找处理器的类型标签，空类型按 default 处理。
func (m Message) RouteType() string {
	if t := strings.TrimSpace(m.Type); t != "" {
		return t
	}
	return DefaultType
}

// ContainsKeyword 判断消息内容是否包含关键字，区分大小写。
func (m Message) ContainsKeyword(keyword string) bool {
	return strings.Contains(m.Content, keyword)
}

// String 返回便于日志输出的简短表示。
func (m Message) String() string {
	return fmt.Sprintf("[%s] %s (from %s)", m.RouteType(), m.Content, m.From)
}

func encode(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("编码消息失败: %w", err)
	}
	return payload, nil
}

func decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("解码消息失败: %w", err)
	}
	return msg, nil
}
