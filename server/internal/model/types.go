package model

import "time"

// Photo 是信息流中的一条照片记录。
// 约定：LikeCount 永远等于 len(LikedBy)，同一用户在 LikedBy 中最多出现一次。
type Photo struct {
	// ID 创建时分配，记录生命周期内不变。
	ID string `json:"id"`
	// URI 指向图片字节（由拍摄/存储协作方持有）。
	URI string `json:"uri"`
	// OwnerID 创建者身份。
	OwnerID string `json:"ownerId"`
	// OwnerName 创建时记录的展示名，用于浮层头部。
	OwnerName string `json:"ownerName,omitempty"`
	// Tags 调用方附带的标签。
	Tags []string `json:"tags,omitempty"`
	// CreatedAt 随插入顺序单调不减。
	CreatedAt time.Time `json:"createdAt"`

	LikeCount int      `json:"likeCount"`
	LikedBy   []string `json:"likedBy"`
}

// PhotoInput 是 Add 时调用方提供的字段。
type PhotoInput struct {
	URI       string   `json:"uri"`
	OwnerID   string   `json:"ownerId"`
	OwnerName string   `json:"ownerName,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// LikedByUser 判断 userID 是否已点赞。
func (p Photo) LikedByUser(userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range p.LikedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone 返回深拷贝，避免调用方改写 store 内部切片。
func (p Photo) Clone() Photo {
	out := p
	if p.Tags != nil {
		out.Tags = append([]string(nil), p.Tags...)
	}
	out.LikedBy = append(make([]string, 0, len(p.LikedBy)), p.LikedBy...)
	return out
}

// WithLikeToggled 返回切换 userID 点赞状态后的新记录，原记录不变。
// 计数与集合一起更新，不存在只改一半的中间态。
func (p Photo) WithLikeToggled(userID string) Photo {
	out := Normalize(p)
	if out.LikedByUser(userID) {
		kept := make([]string, 0, len(out.LikedBy))
		for _, id := range out.LikedBy {
			if id != userID {
				kept = append(kept, id)
			}
		}
		out.LikedBy = kept
	} else {
		out.LikedBy = append(out.LikedBy, userID)
	}
	out.LikeCount = len(out.LikedBy)
	return out
}

// Normalize 修正读取到的记录，使其满足点赞不变式：
// 缺失的 LikedBy 视为空集合，重复的身份去重，LikeCount 按集合大小重算。
func Normalize(p Photo) Photo {
	out := p.Clone()
	seen := make(map[string]struct{}, len(out.LikedBy))
	likedBy := make([]string, 0, len(out.LikedBy))
	for _, id := range out.LikedBy {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		likedBy = append(likedBy, id)
	}
	out.LikedBy = likedBy
	out.LikeCount = len(likedBy)
	return out
}

// User 是身份边界暴露的当前用户。
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ViewerSession 记录一个已挂载的信息流查看实例。
type ViewerSession struct {
	ViewerID  string    `json:"viewer_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateViewerResponse 是创建查看实例的响应。
type CreateViewerResponse struct {
	ViewerID string `json:"viewer_id"`
}

// ChangeKind 标识一次已提交的 store 变更。
type ChangeKind string

const (
	ChangePhotoAdded   ChangeKind = "photo_added"
	ChangePhotoDeleted ChangeKind = "photo_deleted"
	ChangeLikeToggled  ChangeKind = "like_toggled"
)

// Change 是变更日志中的一条事实记录，写入成功后才会产生。
type Change struct {
	// Seq 由日志分配的单调序号。
	Seq int64 `json:"seq"`
	// EventID 用于去重，相同 EventID 只记录一次。
	EventID string     `json:"event_id,omitempty"`
	Kind    ChangeKind `json:"kind"`
	PhotoID string     `json:"photo_id"`
	// Position 是记录在变更前（删除）或变更后（新增/点赞）集合中的下标。
	Position int `json:"position"`
	// Length 是变更后的集合长度。
	Length int       `json:"length"`
	UserID string    `json:"user_id,omitempty"`
	At     time.Time `json:"at"`
}
