package manifest

import (
	"testing"
	"time"
)

func TestOpenMissingManifestIsEmpty(t *testing.T) {
	base := t.TempDir()
	m, err := Open(base)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := m.CurrentVersion(); ok {
		t.Error("expected no current version for a fresh manifest")
	}
	if len(m.ListVersions()) != 0 {
		t.Error("expected no versions for a fresh manifest")
	}
}

func TestPublishAndSaveLoadRoundTrip(t *testing.T) {
	base := t.TempDir()
	m, err := Open(base)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	v1 := NewVersionFromBuild("2025-10-24T12:00:00Z", 1024, time.Date(2025, 10, 24, 12, 0, 0, 0, time.UTC))
	if err := m.PublishVersion(v1); err != nil {
		t.Fatalf("PublishVersion failed: %v", err)
	}

	reloaded, err := Open(base)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	cur, ok := reloaded.CurrentVersion()
	if !ok {
		t.Fatal("expected a current version after reopen")
	}
	if cur.Version != v1.Version {
		t.Errorf("CurrentVersion = %q, want %q", cur.Version, v1.Version)
	}
	if cur.DomainsMphf != "index/2025-10-24T12:00:00Z/domains.mphf" {
		t.Errorf("DomainsMphf = %q", cur.DomainsMphf)
	}
}

func TestAddVersionReplacesExisting(t *testing.T) {
	m := &Manifest{}
	v1 := NewVersionFromBuild("v1", 4, time.Unix(100, 0))
	m.AddVersion(v1)

	v1Updated := NewVersionFromBuild("v1", 8, time.Unix(200, 0))
	m.AddVersion(v1Updated)

	if len(m.versions) != 1 {
		t.Fatalf("expected 1 version after replace, got %d", len(m.versions))
	}
	got, _ := m.GetVersion("v1")
	if !got.CreatedAt.Equal(time.Unix(200, 0)) {
		t.Errorf("expected replaced version, got CreatedAt=%v", got.CreatedAt)
	}
}

func TestSetCurrentVersionRejectsUnknown(t *testing.T) {
	m := &Manifest{}
	if err := m.SetCurrentVersion("missing"); err == nil {
		t.Error("expected error setting unknown current version")
	}
}

func TestListVersionsOrderedByCreatedAt(t *testing.T) {
	m := &Manifest{}
	m.AddVersion(NewVersionFromBuild("v2", 4, time.Unix(200, 0)))
	m.AddVersion(NewVersionFromBuild("v1", 4, time.Unix(100, 0)))
	m.AddVersion(NewVersionFromBuild("v3", 4, time.Unix(300, 0)))

	got := m.ListVersions()
	want := []string{"v1", "v2", "v3"}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("ListVersions()[%d] = %q, want %q", i, got[i], w)
		}
	}
}

func TestCleanupOldVersionsKeepsMostRecent(t *testing.T) {
	m := &Manifest{}
	for i, ts := range []int64{100, 200, 300, 400} {
		m.AddVersion(NewVersionFromBuild(string(rune('a'+i)), 4, time.Unix(ts, 0)))
	}

	removed := m.CleanupOldVersions(2)
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed versions, got %d: %v", len(removed), removed)
	}
	if len(m.versions) != 2 {
		t.Fatalf("expected 2 remaining versions, got %d", len(m.versions))
	}
	if _, ok := m.GetVersion(string(rune('a' + 3))); !ok {
		t.Error("expected most recent version to survive cleanup")
	}
	if _, ok := m.GetVersion(string(rune('a' + 0))); ok {
		t.Error("expected oldest version to be removed")
	}
}

func TestCleanupNoOpWhenUnderLimit(t *testing.T) {
	m := &Manifest{}
	m.AddVersion(NewVersionFromBuild("v1", 4, time.Unix(100, 0)))
	if removed := m.CleanupOldVersions(5); removed != nil {
		t.Errorf("expected no removals, got %v", removed)
	}
}

func TestAcquireBuildLockDetectsConflict(t *testing.T) {
	base := t.TempDir()

	lock1, err := AcquireBuildLock(base)
	if err != nil {
		t.Fatalf("first AcquireBuildLock failed: %v", err)
	}
	defer lock1.Release()

	if _, err := AcquireBuildLock(base); err == nil {
		t.Error("expected second AcquireBuildLock to fail while first is held")
	}
}

func TestAcquireBuildLockAfterReleaseSucceeds(t *testing.T) {
	base := t.TempDir()

	lock1, err := AcquireBuildLock(base)
	if err != nil {
		t.Fatalf("AcquireBuildLock failed: %v", err)
	}
	if err := lock1.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	lock2, err := AcquireBuildLock(base)
	if err != nil {
		t.Fatalf("AcquireBuildLock after release failed: %v", err)
	}
	defer lock2.Release()
}
