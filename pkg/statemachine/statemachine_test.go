package statemachine

import "testing"

func TestIsValidTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{Pending, Building, true},
		{Pending, Healthy, false},
		{Building, Pushed, true},
		{Pushed, Deploying, true},
		{Deploying, Healthy, true},
		{Deploying, Unhealthy, false},
		{Healthy, Unhealthy, true},
		{Healthy, Terminating, true},
		{Healthy, Cancelling, false},
		{Unhealthy, Healthy, true},
		{Unhealthy, Failed, true},
		{Cancelling, Cancelled, true},
		{Terminating, Stopped, true},
		{Terminating, Superseded, true},
		{Terminating, Expired, true},
		{Terminating, Failed, true},
		{Cancelled, Pending, false},
		{Failed, Building, false},
		{Healthy, Healthy, false},
	}
	for _, c := range cases {
		if got := IsValidTransition(c.from, c.to); got != c.want {
			t.Errorf("IsValidTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{Cancelled, Stopped, Superseded, Failed, Expired} {
		if !IsTerminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{Pending, Healthy, Unhealthy, Deploying} {
		if IsTerminal(s) {
			t.Errorf("expected %s to not be terminal", s)
		}
	}
}

func TestIsCancellable(t *testing.T) {
	for _, s := range []Status{Pending, Building, Pushing, Pushed, Deploying} {
		if !IsCancellable(s) {
			t.Errorf("expected %s to be cancellable", s)
		}
	}
	for _, s := range []Status{Healthy, Unhealthy, Terminating, Cancelled} {
		if IsCancellable(s) {
			t.Errorf("expected %s to not be cancellable", s)
		}
	}
}

func TestIsRollbackable(t *testing.T) {
	for _, s := range []Status{Healthy, Superseded} {
		if !IsRollbackable(s) {
			t.Errorf("expected %s to be rollbackable", s)
		}
	}
	for _, s := range []Status{Pending, Failed, Unhealthy} {
		if IsRollbackable(s) {
			t.Errorf("expected %s to not be rollbackable", s)
		}
	}
}

func TestIsActive(t *testing.T) {
	for _, s := range []Status{Healthy, Unhealthy} {
		if !IsActive(s) {
			t.Errorf("expected %s to be active", s)
		}
	}
	if IsActive(Pending) || IsActive(Terminating) {
		t.Error("pre-infra and cleanup states must not be active")
	}
}

func TestNoSelfTransition(t *testing.T) {
	for from := range transitions {
		if IsValidTransition(from, from) {
			t.Errorf("%s -> %s should not be valid (terminal rows must stay immutable, non-terminal rows move via explicit transitions)", from, from)
		}
	}
}
