package model

import (
	"fmt"
	"time"
)

// PhotoView 是渲染层看到的一张照片，附带针对当前用户推导出的状态。
type PhotoView struct {
	Photo
	// LikedByMe 由 LikedBy 推导，不再使用全局 liked 字段。
	LikedByMe bool `json:"likedByMe"`
	// OwnedByMe 决定浮层是否显示删除按钮。
	OwnedByMe bool `json:"ownedByMe"`
	// Age 是浮层头部的相对时间（now / 5m ago / 3h ago / 2d ago）。
	Age string `json:"age"`
}

// RenderFrame 是一次渲染快照，由 Feed Screen 产出，网关推给客户端。
type RenderFrame struct {
	Previous *PhotoView `json:"previous,omitempty"`
	Current  *PhotoView `json:"current,omitempty"`
	Next     *PhotoView `json:"next,omitempty"`

	Index  int  `json:"index"`
	Length int  `json:"length"`
	Empty  bool `json:"empty"`

	// Offset 是当前拖拽/动画位移（像素），静止时为 0。
	Offset    float64 `json:"offset"`
	Direction string  `json:"direction"`
	State     string  `json:"state"`

	OverlayVisible bool `json:"overlay_visible"`
	LikeBurst      bool `json:"like_burst"`
	// Notice 是可恢复的错误提示（点赞/删除失败、权限不足）。
	Notice string `json:"notice,omitempty"`
}

// NewPhotoView 针对 userID 生成渲染视图。
func NewPhotoView(p Photo, userID string, now time.Time) *PhotoView {
	return &PhotoView{
		Photo:     p.Clone(),
		LikedByMe: p.LikedByUser(userID),
		OwnedByMe: userID != "" && p.OwnerID == userID,
		Age:       RelativeAge(p.CreatedAt, now),
	}
}

// RelativeAge 生成浮层头部的相对时间：不足一分钟显示 now，其余按分钟/小时/天取整。
func RelativeAge(createdAt, now time.Time) string {
	diff := now.Sub(createdAt)
	if diff < 0 {
		diff = 0
	}
	hours := int(diff / time.Hour)
	days := hours / 24
	switch {
	case days > 0:
		return fmt.Sprintf("%dd ago", days)
	case hours > 0:
		return fmt.Sprintf("%dh ago", hours)
	}
	minutes := int(diff / time.Minute)
	if minutes < 1 {
		return "now"
	}
	return fmt.Sprintf("%dm ago", minutes)
}
