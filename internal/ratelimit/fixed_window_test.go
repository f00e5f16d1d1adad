package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	l, err := New(redisSrv.Addr(), "", "test:ratelimit", time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return l, redisSrv
}

func TestScopeLimitsPerKey(t *testing.T) {
	l, _ := newTestLimiter(t)
	register := l.Scope("register", 2)

	if !register.Allow("10.0.0.1") || !register.Allow("10.0.0.1") {
		t.Fatalf("first two registrations from one address should pass")
	}
	if register.Allow("10.0.0.1") {
		t.Fatalf("third registration from the same address should be blocked")
	}
	if !register.Allow("10.0.0.2") {
		t.Fatalf("another address must not be affected")
	}
}

func TestScopesDoNotContend(t *testing.T) {
	l, _ := newTestLimiter(t)
	register := l.Scope("register", 1)
	convert := l.Scope("convert", 1)

	if !register.Allow("user-1") {
		t.Fatalf("register quota should pass")
	}
	if !convert.Allow("user-1") {
		t.Fatalf("convert scope must have its own quota for the same key")
	}
	if convert.Allow("user-1") {
		t.Fatalf("convert quota should now be exhausted")
	}
}

func TestDisabledScopeAlwaysAllows(t *testing.T) {
	l, redisSrv := newTestLimiter(t)
	disabled := l.Scope("convert", 0)

	redisSrv.Close()
	for i := 0; i < 5; i++ {
		if !disabled.Allow("user-1") {
			t.Fatalf("disabled scope must allow even without redis")
		}
	}
}

func TestScopeFailsClosedOnRedisErrors(t *testing.T) {
	l, redisSrv := newTestLimiter(t)
	register := l.Scope("register", 10)

	redisSrv.Close()
	if register.Allow("10.0.0.1") {
		t.Fatalf("limiter should fail closed when redis is down")
	}
}

func TestNewRequiresRedisAddr(t *testing.T) {
	if l, err := New("", "", "test:ratelimit", time.Minute); err == nil || l != nil {
		t.Fatalf("expected constructor error for empty redis addr")
	}
}
