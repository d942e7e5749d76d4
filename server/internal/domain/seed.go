package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"spotted/server/internal/model"
)

// PhotoCollection 是导入种子数据所需的 store 能力。
type PhotoCollection interface {
	GetAll(ctx context.Context) ([]model.Photo, error)
	Add(ctx context.Context, in model.PhotoInput) (model.Photo, error)
}

// LoadSeedPhotos 从指定路径加载种子照片，顺序即信息流从上到下的顺序。
func LoadSeedPhotos(path string) ([]model.PhotoInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed photos: %w", err)
	}

	var photos []model.PhotoInput
	if err := json.Unmarshal(data, &photos); err != nil {
		return nil, fmt.Errorf("parse seed photos: %w", err)
	}

	for i, p := range photos {
		if p.URI == "" || p.OwnerID == "" {
			return nil, fmt.Errorf("seed photo %d: uri and ownerId required", i)
		}
	}
	return photos, nil
}

// Seed 只在集合为空时导入，返回实际写入的条数。
// 倒序写入，使 photos[0] 成为最新的一条。
func Seed(ctx context.Context, store PhotoCollection, photos []model.PhotoInput, logger *log.Logger) (int, error) {
	if logger == nil {
		logger = log.Default()
	}

	existing, err := store.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("read collection: %w", err)
	}
	if len(existing) > 0 {
		logger.Printf("[Seed] collection already has %d photos, skipping", len(existing))
		return 0, nil
	}

	added := 0
	for i := len(photos) - 1; i >= 0; i-- {
		if _, err := store.Add(ctx, photos[i]); err != nil {
			return added, fmt.Errorf("seed photo %d: %w", i, err)
		}
		added++
	}
	logger.Printf("[Seed] ✅ imported %d photos", added)
	return added, nil
}
