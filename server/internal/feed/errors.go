package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrPermission 匹配所有 PermissionError。
	ErrPermission = errors.New("permission denied")
	// ErrUnmounted 表示 screen 已卸载，结果被丢弃。
	ErrUnmounted = errors.New("feed screen unmounted")
)

// PermissionError.Reason 的取值
const (
	ReasonSignedOut = "signed out"
	ReasonNotOwner  = "not owner"
)

// PermissionError 在调用 store 之前因身份不满足而拒绝操作。
type PermissionError struct {
	Action string
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s not permitted: %s", e.Action, e.Reason)
}

func (e *PermissionError) Is(target error) bool {
	return target == ErrPermission
}
