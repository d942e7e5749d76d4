package timeline

import (
	"context"

	"spotted/server/internal/model"
)

type Store interface {
	// Append 只记录已落盘的变更，返回本次写入的 seq。
	// 约定：同一 stream 的 seq 单调递增；相同 EventID 的请求应幂等返回同一 seq。
	Append(ctx context.Context, stream string, change *model.Change) (int64, error)
	// Since 返回 seq 大于 after 的全部变更，用于查看实例补齐错过的通知。
	Since(ctx context.Context, stream string, after int64) ([]model.Change, error)
}
