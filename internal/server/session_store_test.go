package server

import (
	"context"
	"testing"
	"time"
)

func TestMemoryPrincipalStoreAuthenticate(t *testing.T) {
	s := newMemoryPrincipalStore()
	s.Seed(Principal{ID: "u1", TenantID: "t1", RoleSlug: "member", Email: "a@acme.test"}, "secret")

	p, err := s.AuthenticatePassword(context.Background(), "t1", "a@acme.test", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "u1" {
		t.Fatalf("authenticated %q, want u1", p.ID)
	}

	if _, err := s.AuthenticatePassword(context.Background(), "t1", "a@acme.test", "wrong"); err != errInvalidCredentials {
		t.Fatalf("wrong password: err = %v", err)
	}
	// Same email under another tenant is a different credential.
	if _, err := s.AuthenticatePassword(context.Background(), "t2", "a@acme.test", "secret"); err != errInvalidCredentials {
		t.Fatalf("cross tenant: err = %v", err)
	}
}

func TestMemoryPrincipalStoreInactive(t *testing.T) {
	s := newMemoryPrincipalStore()
	s.Seed(Principal{ID: "u1", TenantID: "t1", Email: "a@acme.test", Status: "suspended"}, "secret")

	if _, err := s.AuthenticatePassword(context.Background(), "t1", "a@acme.test", "secret"); err != errInvalidCredentials {
		t.Fatalf("suspended principal authenticated: err = %v", err)
	}
}

func TestMemorySessionStoreLifecycle(t *testing.T) {
	s := newMemorySessionStore()

	sid, err := s.Create(context.Background(), "t1", "u1", time.Now().Add(time.Hour), "", "")
	if err != nil {
		t.Fatal(err)
	}
	sess, ok, err := s.Lookup(context.Background(), sid)
	if err != nil || !ok {
		t.Fatalf("Lookup: ok=%v err=%v", ok, err)
	}
	if sess.PrincipalID != "u1" || sess.TenantID != "t1" {
		t.Fatalf("session = %+v", sess)
	}

	if err := s.Revoke(context.Background(), sid); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Lookup(context.Background(), sid); ok {
		t.Fatal("revoked session still valid")
	}
}

func TestMemorySessionStoreExpiry(t *testing.T) {
	s := newMemorySessionStore()
	sid, err := s.Create(context.Background(), "t1", "u1", time.Now().Add(-time.Minute), "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Lookup(context.Background(), sid); ok {
		t.Fatal("expired session still valid")
	}
}
