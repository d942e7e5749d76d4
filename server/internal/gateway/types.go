package gateway

import (
	"time"

	"spotted/server/internal/model"
)

// EventType 定义了网关处理的消息类型
type EventType string

const (
	// 指针事件（客户端上行）
	EventTypeDragStart EventType = "drag_start" // 手指按下开始拖拽
	EventTypeDragMove  EventType = "drag_move"  // 拖拽中，dy 为累计位移
	EventTypeDragEnd   EventType = "drag_end"   // 松手，可选上报速度 vy
	EventTypeTap       EventType = "tap"        // 点击（单击/双击由服务端判定）

	// 浮层操作
	EventTypeLike         EventType = "like"          // 点赞按钮
	EventTypeDelete       EventType = "delete"        // 删除（仅 owner）
	EventTypeCloseOverlay EventType = "close_overlay" // 关闭浮层

	// 生命周期
	EventTypeFocus    EventType = "focus"    // 回到前台/下拉刷新
	EventTypeViewport EventType = "viewport" // 视口尺寸变化

	// 服务端下行
	EventTypeRender EventType = "render"
	EventTypeError  EventType = "error"
)

// ClientMessage 客户端发送给网关的消息（WebSocket文本帧）
type ClientMessage struct {
	Type    EventType `json:"type"`
	EventID string    `json:"event_id,omitempty"` // 客户端关联用
	// DY 拖拽累计位移（px，向上为负）
	DY float64 `json:"dy,omitempty"`
	// VY 松手速度（px/s）；缺省时由服务端估算
	VY       *float64  `json:"vy,omitempty"`
	PhotoID  string    `json:"photo_id,omitempty"`
	Height   float64   `json:"height,omitempty"`
	ClientTS time.Time `json:"client_ts,omitempty"` // 客户端时间戳
}

// ServerMessage 网关发送给客户端的消息
type ServerMessage struct {
	Type     EventType          `json:"type"`
	Seq      int64              `json:"seq,omitempty"` // 服务端序号
	EventID  string             `json:"event_id,omitempty"`
	Frame    *model.RenderFrame `json:"frame,omitempty"`
	ServerTS time.Time          `json:"server_ts"`
	Error    string             `json:"error,omitempty"`
}
