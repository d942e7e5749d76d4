package identity

import (
	"testing"

	"spotted/server/internal/model"
)

func TestSessionSignInOutNotifiesListeners(t *testing.T) {
	s := NewSession(nil)
	if s.CurrentUser() != nil {
		t.Fatalf("expected signed-out session")
	}

	var seen []*model.User
	unsubscribe := s.OnAuthStateChanged(func(u *model.User) { seen = append(seen, u) })

	s.SignIn(model.User{ID: "u1", Username: "al"})
	if got := UserID(s); got != "u1" {
		t.Fatalf("expected u1, got %q", got)
	}
	s.SignOut()
	if got := UserID(s); got != "" {
		t.Fatalf("expected empty user id after sign out, got %q", got)
	}

	if len(seen) != 2 || seen[0] == nil || seen[0].ID != "u1" || seen[1] != nil {
		t.Fatalf("unexpected notifications: %+v", seen)
	}

	unsubscribe()
	unsubscribe()
	s.SignIn(model.User{ID: "u2"})
	if len(seen) != 2 {
		t.Fatalf("expected no notification after unsubscribe, got %d", len(seen))
	}
}

func TestSessionCurrentUserReturnsCopy(t *testing.T) {
	s := NewSession(&model.User{ID: "u1"})
	u := s.CurrentUser()
	u.ID = "mallory"
	if got := s.CurrentUser().ID; got != "u1" {
		t.Fatalf("expected session user unchanged, got %q", got)
	}
}

func TestUserIDNilProvider(t *testing.T) {
	if got := UserID(nil); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}
