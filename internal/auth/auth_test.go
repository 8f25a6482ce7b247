package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMinter_roundTrip(t *testing.T) {
	t.Parallel()
	m := &Minter{Secret: "s3cret", Subject: "operator", Roles: []string{"viewer"}}
	tok, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	claims, err := Verify(tok, "s3cret")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "operator" || len(claims.Roles) != 1 || claims.Roles[0] != "viewer" {
		t.Fatalf("claims: got %+v", claims)
	}
	if _, err := Verify(tok, "other"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: got %v", err)
	}
}

func TestMinter_reusesUntilNearExpiry(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := &Minter{Secret: "k", Subject: "op", TTL: 10 * time.Minute, Now: func() time.Time { return now }}
	first, _ := m.Token(context.Background())
	now = now.Add(time.Minute)
	if again, _ := m.Token(context.Background()); again != first {
		t.Fatal("token should be reused while fresh")
	}
	now = now.Add(9 * time.Minute)
	if next, _ := m.Token(context.Background()); next == first {
		t.Fatal("token should be re-minted near expiry")
	}
}

func TestMinter_noSecret(t *testing.T) {
	t.Parallel()
	if _, err := (&Minter{Subject: "op"}).Token(context.Background()); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("want ErrNoSecret, got %v", err)
	}
	if _, err := Verify("x", ""); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("Verify without secret: got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	if tok, ok := BearerToken("Bearer abc"); !ok || tok != "abc" {
		t.Fatalf("BearerToken: got %q %v", tok, ok)
	}
	if _, ok := BearerToken("Basic abc"); ok {
		t.Fatal("Basic should not parse")
	}
}
