package kv

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("kv: key not found")

// Backend 是照片集合的持久化后端（等价于移动端的 AsyncStorage）。
// 约定：值按整体读写，没有局部更新；Set 返回 nil 才代表写入已落盘。
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}
