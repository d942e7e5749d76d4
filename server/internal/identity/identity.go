package identity

import (
	"sync"

	"spotted/server/internal/model"
)

// Provider 是账号/会话管理的边界：只暴露当前用户与登录状态变化。
type Provider interface {
	// CurrentUser 返回当前登录用户；未登录时返回 nil。
	CurrentUser() *model.User
	// OnAuthStateChanged 注册登录状态监听，返回取消函数。
	OnAuthStateChanged(fn func(*model.User)) func()
}

// Session 是进程内的 Provider 实现，每个查看实例或请求持有一份。
type Session struct {
	mu        sync.RWMutex
	user      *model.User
	listeners map[int]func(*model.User)
	nextID    int
}

// NewSession 创建会话；user 为 nil 表示未登录。
func NewSession(user *model.User) *Session {
	s := &Session{listeners: make(map[int]func(*model.User))}
	if user != nil {
		u := *user
		s.user = &u
	}
	return s
}

func (s *Session) CurrentUser() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Session) OnAuthStateChanged(fn func(*model.User)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// SignIn 切换当前用户并通知监听者。
func (s *Session) SignIn(user model.User) {
	u := user
	s.set(&u)
}

// SignOut 清空当前用户并通知监听者。
func (s *Session) SignOut() {
	s.set(nil)
}

func (s *Session) set(user *model.User) {
	s.mu.Lock()
	s.user = user
	listeners := make([]func(*model.User), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		if user == nil {
			fn(nil)
			continue
		}
		u := *user
		fn(&u)
	}
}

// UserID 返回 provider 当前用户的 id，未登录时为空串。
func UserID(p Provider) string {
	if p == nil {
		return ""
	}
	if u := p.CurrentUser(); u != nil {
		return u.ID
	}
	return ""
}
