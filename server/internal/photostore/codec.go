package photostore

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"spotted/server/internal/model"
)

// storedPhoto 是落盘格式，兼容旧版本客户端写入的字段。
type storedPhoto struct {
	ID        string     `json:"id"`
	URI       string     `json:"uri"`
	OwnerID   string     `json:"ownerId,omitempty"`
	OwnerName string     `json:"ownerName,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	LikeCount *int       `json:"likeCount,omitempty"`
	LikedBy   []string   `json:"likedBy,omitempty"`

	// 旧版本字段：只读不写。
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	UserEmail string          `json:"userEmail,omitempty"`
	Username  string          `json:"username,omitempty"`
	Liked     *bool           `json:"liked,omitempty"`
}

// decodeCollection 解析落盘的集合并做 schema 迁移，结果按最新优先排序。
// 没有 id 的记录无法被寻址，直接跳过并返回跳过的条数。
func decodeCollection(data []byte) ([]model.Photo, int, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []model.Photo{}, 0, nil
	}

	var stored []storedPhoto
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, 0, err
	}

	photos := make([]model.Photo, 0, len(stored))
	skipped := 0
	for _, rec := range stored {
		if rec.ID == "" {
			skipped++
			continue
		}
		photos = append(photos, migrate(rec))
	}
	sortNewestFirst(photos)
	return photos, skipped, nil
}

// migrate 把旧记录补齐为当前格式：缺失的点赞字段视为空集合/0，
// 旧的 timestamp/userEmail 映射到 createdAt/ownerId，全局 liked 丢弃。
func migrate(rec storedPhoto) model.Photo {
	p := model.Photo{
		ID:        rec.ID,
		URI:       rec.URI,
		OwnerID:   rec.OwnerID,
		OwnerName: rec.OwnerName,
		Tags:      rec.Tags,
		LikedBy:   rec.LikedBy,
	}

	if p.OwnerID == "" {
		p.OwnerID = firstNonEmpty(rec.UserID, rec.UserEmail, rec.Username)
	}
	if p.OwnerName == "" {
		p.OwnerName = firstNonEmpty(rec.Username, rec.UserEmail)
	}

	switch {
	case rec.CreatedAt != nil:
		p.CreatedAt = rec.CreatedAt.UTC()
	case len(rec.Timestamp) > 0:
		p.CreatedAt = parseLegacyTimestamp(rec.Timestamp)
	}

	// LikeCount 不可信：一票一身份，按集合重算。
	return model.Normalize(p)
}

// parseLegacyTimestamp 兼容 ISO 字符串与毫秒时间戳两种旧格式，无法解析时返回零值。
func parseLegacyTimestamp(raw json.RawMessage) time.Time {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		return time.Time{}
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(int64(ms)).UTC()
	}
	return time.Time{}
}

// encodeCollection 按当前格式整体序列化集合。
func encodeCollection(photos []model.Photo) ([]byte, error) {
	out := make([]model.Photo, len(photos))
	for i, p := range photos {
		out[i] = model.Normalize(p)
	}
	return json.Marshal(out)
}

// sortNewestFirst 按 createdAt 降序；稳定排序保证同一时间戳下后插入的在前
// （集合本身按最新优先存放）。
func sortNewestFirst(photos []model.Photo) {
	sort.SliceStable(photos, func(i, j int) bool {
		return photos[i].CreatedAt.After(photos[j].CreatedAt)
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
