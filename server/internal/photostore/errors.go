package photostore

import (
	"errors"
	"fmt"
)

var (
	// ErrPhotoNotFound indicates the photo id is not in the collection
	ErrPhotoNotFound = errors.New("photo not found")

	// ErrInvalidInput indicates a required field (uri, owner, user) is missing
	ErrInvalidInput = errors.New("invalid photo input")

	// ErrPersistence matches every *PersistenceError via errors.Is
	ErrPersistence = errors.New("photo persistence failed")
)

// PersistenceError 表示持久化读写（I/O 或序列化）失败。
// 约定：返回该错误时，内存视图仍停留在最后一次成功落盘的状态。
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("photo store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
