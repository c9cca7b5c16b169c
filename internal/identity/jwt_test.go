package identity

import (
	"context"
	"testing"
	"time"

	"attendance.service/internal/core/model"
)

func TestTokenRoundTrip(t *testing.T) {
	ident := model.Identity{UID: "u1", DisplayName: "Ana Pop", Email: "ana@example.com"}

	token, err := GenerateToken("secret", ident, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	got, err := ParseToken("secret", token)
	if err != nil {
		t.Fatalf("ParseToken returned error: %v", err)
	}
	if *got != ident {
		t.Fatalf("expected %+v, got %+v", ident, *got)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("secret", model.Identity{UID: "u1"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	if _, err := ParseToken("other-secret", token); err == nil {
		t.Fatal("expected verification failure for wrong secret")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, err := GenerateToken("secret", model.Identity{UID: "u1"}, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	if _, err := ParseToken("secret", token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestParseTokenRequiresUID(t *testing.T) {
	token, err := GenerateToken("secret", model.Identity{Email: "ana@example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	if _, err := ParseToken("secret", token); err == nil {
		t.Fatal("expected token without uid to be rejected")
	}
}

func TestIdentityContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected no identity on a bare context")
	}

	ident := model.Identity{UID: "u1"}
	ctx := WithIdentity(context.Background(), ident)
	got, ok := FromContext(ctx)
	if !ok || got.UID != "u1" {
		t.Fatalf("expected identity u1, got %+v ok=%v", got, ok)
	}
}

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Events()
	b, cancelB := hub.Events()
	defer cancelA()
	defer cancelB()

	hub.SignIn(model.Identity{UID: "u1"})
	hub.SignOut()

	for name, ch := range map[string]<-chan *model.Identity{"a": a, "b": b} {
		ev := <-ch
		if ev == nil || ev.UID != "u1" {
			t.Fatalf("listener %s: expected sign-in for u1, got %+v", name, ev)
		}
		if ev := <-ch; ev != nil {
			t.Fatalf("listener %s: expected sign-out, got %+v", name, ev)
		}
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()
	gone, cancelGone := hub.Events()
	kept, cancelKept := hub.Events()
	defer cancelKept()

	cancelGone()
	cancelGone() // second cancel must be a no-op

	if _, open := <-gone; open {
		t.Fatal("expected canceled listener's channel to be closed")
	}

	hub.SignIn(model.Identity{UID: "u2"})
	if ev := <-kept; ev == nil || ev.UID != "u2" {
		t.Fatalf("remaining listener: expected sign-in for u2, got %+v", ev)
	}
	if _, open := <-gone; open {
		t.Fatal("canceled listener must not receive events")
	}
}
