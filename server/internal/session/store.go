package session

import (
	"context"

	"spotted/server/internal/model"
)

// Store 保存已创建的查看实例。
type Store interface {
	Get(ctx context.Context, id string) (*model.ViewerSession, error)
	Save(ctx context.Context, s *model.ViewerSession) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*model.ViewerSession, error)
}
