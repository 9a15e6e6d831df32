package rpc

import (
	"sort"
	"testing"
)

func TestRegisterAndRoute(t *testing.T) {
	r := NewRegistry()

	r.Register("machine.spawn", "sock-1")
	id, ok := r.SocketIDForMethod("machine.spawn")
	if !ok || id != "sock-1" {
		t.Fatalf("route: ok=%v id=%q", ok, id)
	}

	if _, ok := r.SocketIDForMethod("machine.stop"); ok {
		t.Fatalf("unregistered method routed")
	}
}

func TestRegisterIgnoresEmptyArguments(t *testing.T) {
	r := NewRegistry()

	r.Register("", "sock-1")
	r.Register("machine.spawn", "")
	if _, ok := r.SocketIDForMethod(""); ok {
		t.Fatalf("empty method registered")
	}
	if _, ok := r.SocketIDForMethod("machine.spawn"); ok {
		t.Fatalf("empty socket registered")
	}
}

func TestReRegistrationMovesOwnership(t *testing.T) {
	r := NewRegistry()

	r.Register("machine.spawn", "sock-old")
	r.Register("machine.spawn", "sock-new")

	id, ok := r.SocketIDForMethod("machine.spawn")
	if !ok || id != "sock-new" {
		t.Fatalf("route after re-register: ok=%v id=%q", ok, id)
	}

	// The stale connection's bulk cleanup must not unbind the new owner.
	if methods := r.UnregisterSocket("sock-old"); len(methods) != 0 {
		t.Fatalf("stale socket still owned methods: %v", methods)
	}
	if _, ok := r.SocketIDForMethod("machine.spawn"); !ok {
		t.Fatalf("binding lost to stale cleanup")
	}
}

func TestUnregisterIsOwnerChecked(t *testing.T) {
	r := NewRegistry()

	r.Register("machine.spawn", "sock-1")
	r.Unregister("machine.spawn", "sock-other")
	if _, ok := r.SocketIDForMethod("machine.spawn"); !ok {
		t.Fatalf("non-owner unregister removed binding")
	}

	r.Unregister("machine.spawn", "sock-1")
	if _, ok := r.SocketIDForMethod("machine.spawn"); ok {
		t.Fatalf("owner unregister left binding")
	}
}

func TestUnregisterSocketReturnsMethods(t *testing.T) {
	r := NewRegistry()

	r.Register("machine.spawn", "sock-1")
	r.Register("machine.stop", "sock-1")
	r.Register("session.kill", "sock-2")

	methods := r.UnregisterSocket("sock-1")
	sort.Strings(methods)
	if len(methods) != 2 || methods[0] != "machine.spawn" || methods[1] != "machine.stop" {
		t.Fatalf("unexpected methods: %v", methods)
	}

	if _, ok := r.SocketIDForMethod("machine.spawn"); ok {
		t.Fatalf("binding survived socket cleanup")
	}
	if _, ok := r.SocketIDForMethod("session.kill"); !ok {
		t.Fatalf("unrelated binding removed")
	}
	if methods := r.UnregisterSocket("sock-1"); len(methods) != 0 {
		t.Fatalf("second cleanup returned methods: %v", methods)
	}
}
