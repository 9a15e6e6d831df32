package store

import "testing"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSeedsDefaultUsers(t *testing.T) {
	s := openTestStore(t)

	admin, ok, err := s.GetUserByUsername(DefaultAdminUsername)
	if err != nil || !ok {
		t.Fatalf("admin user missing: ok=%v err=%v", ok, err)
	}
	if admin.ID == "" {
		t.Fatalf("admin user has empty id")
	}
	cli, ok, err := s.GetUserByUsername(DefaultCliUsername)
	if err != nil || !ok {
		t.Fatalf("cli user missing: ok=%v err=%v", ok, err)
	}
	if cli.ID == admin.ID {
		t.Fatalf("admin and cli share an id")
	}
}
