package storage

import (
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies that the migrations create their indexes.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_sessions_updated", "idx_messages_session", "idx_ip_ranges_session"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("002_ip_ranges.sql")
	if err != nil || v != 2 {
		t.Errorf("parseMigrationVersion = %d, %v; want 2, nil", v, err)
	}
	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Error("expected error for unnumbered file")
	}
}

// TestSaveAndGetSession saves a session and retrieves it by ID.
func TestSaveAndGetSession(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	want := Session{
		ID:              "sess-001",
		AgentActive:     true,
		CLIFallback:     true,
		DiscoveryActive: false,
		ScanningActive:  true,
		Scale:           "business",
		Page:            "threats",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.SaveSession(want); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := s.GetSession("sess-001")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.AgentActive != want.AgentActive || got.CLIFallback != want.CLIFallback ||
		got.DiscoveryActive != want.DiscoveryActive || got.ScanningActive != want.ScanningActive {
		t.Errorf("flags = %+v, want %+v", got, want)
	}
	if got.Scale != want.Scale {
		t.Errorf("Scale = %q, want %q", got.Scale, want.Scale)
	}
	if got.Page != want.Page {
		t.Errorf("Page = %q, want %q", got.Page, want.Page)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

// TestSaveSessionUpsert verifies that saving again updates state but keeps created_at.
func TestSaveSessionUpsert(t *testing.T) {
	s := openTestStore(t)

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.SaveSession(Session{ID: "s1", AgentActive: true, CreatedAt: created, UpdatedAt: created}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	later := created.Add(time.Hour)
	if err := s.SaveSession(Session{ID: "s1", AgentActive: false, Scale: "enterprise", CreatedAt: later, UpdatedAt: later}); err != nil {
		t.Fatalf("SaveSession (update): %v", err)
	}

	got, err := s.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.AgentActive || got.Scale != "enterprise" {
		t.Errorf("state not updated: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v (unchanged)", got.CreatedAt, created)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, later)
	}
}

// TestGetSessionNotFound verifies that retrieving a non-existent ID returns ErrNotFound.
func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetSession("does-not-exist")
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestListSessions verifies limit and most-recent-first order.
func TestListSessions(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for j := 0; j < 6; j++ {
		ts := base.Add(time.Duration(j) * time.Hour)
		if err := s.SaveSession(Session{ID: fmt.Sprintf("s-%02d", j), CreatedAt: ts, UpdatedAt: ts}); err != nil {
			t.Fatalf("SaveSession %d: %v", j, err)
		}
	}

	got, err := s.ListSessions(3)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d sessions, want 3", len(got))
	}
	if got[0].ID != "s-05" || got[2].ID != "s-03" {
		t.Errorf("order = %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

// TestDeleteSession verifies cascade removal of messages and ranges.
func TestDeleteSession(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveSession(Session{ID: "doomed"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.SaveMessage(Message{ID: "m1", SessionID: "doomed", Role: "user", Text: "hi"}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if err := s.ReplaceRanges("doomed", []IPRange{{ID: "r1", Name: "HQ", CIDR: "10.0.0.0/24"}}); err != nil {
		t.Fatalf("ReplaceRanges: %v", err)
	}

	if err := s.DeleteSession("doomed"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.GetSession("doomed"); err != ErrNotFound {
		t.Errorf("GetSession after delete: %v, want ErrNotFound", err)
	}
	c, err := s.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if c != (Counts{}) {
		t.Errorf("Counts after delete = %+v, want zero", c)
	}

	if err := s.DeleteSession("doomed"); err != ErrNotFound {
		t.Errorf("second DeleteSession: %v, want ErrNotFound", err)
	}
}

// TestMessages verifies ordering, the newest-N limit and clearing.
func TestMessages(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveSession(Session{ID: "s1"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for j := 0; j < 8; j++ {
		m := Message{
			ID:        fmt.Sprintf("m-%d", j),
			SessionID: "s1",
			Role:      "agent",
			Text:      fmt.Sprintf("msg %d", j),
			Topic:     "threats",
			Persona:   "ThreatScanner",
			// identical timestamps: order must come from insertion
			CreatedAt: base,
		}
		if err := s.SaveMessage(m); err != nil {
			t.Fatalf("SaveMessage %d: %v", j, err)
		}
	}

	got, err := s.GetMessages("s1", 3)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for k, want := range []string{"m-5", "m-6", "m-7"} {
		if got[k].ID != want {
			t.Errorf("got[%d].ID = %q, want %q", k, got[k].ID, want)
		}
	}
	if got[0].Persona != "ThreatScanner" || got[0].Topic != "threats" || !got[0].CreatedAt.Equal(base) {
		t.Errorf("round-trip mismatch: %+v", got[0])
	}

	all, err := s.GetMessages("s1", 0)
	if err != nil {
		t.Fatalf("GetMessages(all): %v", err)
	}
	if len(all) != 8 {
		t.Errorf("got %d messages, want 8", len(all))
	}

	if err := s.ClearMessages("s1"); err != nil {
		t.Fatalf("ClearMessages: %v", err)
	}
	all, _ = s.GetMessages("s1", 0)
	if len(all) != 0 {
		t.Errorf("got %d messages after clear, want 0", len(all))
	}
}

// TestMessageIDUnique verifies that message ids cannot be reused.
func TestMessageIDUnique(t *testing.T) {
	s := openTestStore(t)
	m := Message{ID: "dup", SessionID: "s1", Role: "user", Text: "a"}
	if err := s.SaveMessage(m); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if err := s.SaveMessage(m); err == nil {
		t.Error("expected error for duplicate message id")
	}
}

// TestReplaceRanges verifies that ranges are replaced as a whole and keep their order.
func TestReplaceRanges(t *testing.T) {
	s := openTestStore(t)

	first := []IPRange{
		{ID: "a", Name: "A", CIDR: "10.0.0.0/24", Devices: 3},
		{ID: "b", Name: "B", CIDR: "10.0.1.0/24", Devices: 4},
	}
	if err := s.ReplaceRanges("s1", first); err != nil {
		t.Fatalf("ReplaceRanges: %v", err)
	}
	second := []IPRange{
		{ID: "c", Name: "C", CIDR: "10.0.2.0/24", Location: "Here", Organization: "Org", Status: "Scanning", Devices: 7, Services: 5, Vulnerabilities: 1, Bandwidth: "1.0GB/s"},
		{ID: "a", Name: "A", CIDR: "10.0.0.0/24", Devices: 3},
	}
	if err := s.ReplaceRanges("s1", second); err != nil {
		t.Fatalf("ReplaceRanges (second): %v", err)
	}

	got, err := s.GetRanges("s1")
	if err != nil {
		t.Fatalf("GetRanges: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d ranges, want 2", len(got))
	}
	want := second[0]
	want.SessionID = "s1"
	if got[0] != want {
		t.Errorf("got[0] = %+v, want %+v", got[0], want)
	}
	if got[1].ID != "a" {
		t.Errorf("got[1].ID = %q, want %q", got[1].ID, "a")
	}

	if err := s.ReplaceRanges("s1", nil); err != nil {
		t.Fatalf("ReplaceRanges(nil): %v", err)
	}
	got, _ = s.GetRanges("s1")
	if len(got) != 0 {
		t.Errorf("got %d ranges after clearing, want 0", len(got))
	}
}

func TestCounts(t *testing.T) {
	s := openTestStore(t)
	_ = s.SaveSession(Session{ID: "s1"})
	_ = s.SaveSession(Session{ID: "s2"})
	_ = s.SaveMessage(Message{ID: "m1", SessionID: "s1", Role: "user", Text: "x"})
	_ = s.ReplaceRanges("s2", []IPRange{{ID: "r", Name: "R", CIDR: "10.0.0.0/8"}})

	c, err := s.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if c != (Counts{Sessions: 2, Messages: 1, Ranges: 1}) {
		t.Errorf("Counts = %+v", c)
	}
}
