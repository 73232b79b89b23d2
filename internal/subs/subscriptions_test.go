package subs

import (
	"testing"
	"time"

	"github.com/hyperjump/kura/internal/identity"
	"github.com/hyperjump/kura/internal/vrpath"
)

func path(t *testing.T, s string) vrpath.Path {
	t.Helper()
	p, err := vrpath.FromString(s)
	if err != nil {
		t.Fatalf("FromString(%q): %v", s, err)
	}
	return p
}

func TestSubscribers_AncestorInheritance(t *testing.T) {
	sx := NewSubscriptionsIndex()
	alice := identity.MustParse("alice/main")
	bob := identity.MustParse("bob/main")
	carol := identity.MustParse("carol/main")

	sx.Subscribe(path(t, "/docs"), alice)
	sx.Subscribe(path(t, "/docs/intro"), bob)
	sx.Subscribe(path(t, "/other"), carol)

	got := sx.Subscribers(path(t, "/docs/intro"))
	if len(got) != 2 || got[0].String() != "alice/main" || got[1].String() != "bob/main" {
		t.Errorf("Subscribers(/docs/intro) = %v", got)
	}

	got = sx.Subscribers(path(t, "/docs"))
	if len(got) != 1 || got[0].String() != "alice/main" {
		t.Errorf("Subscribers(/docs) = %v", got)
	}

	if got := sx.Subscribers(path(t, "/unrelated")); len(got) != 0 {
		t.Errorf("Subscribers(/unrelated) = %v", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	sx := NewSubscriptionsIndex()
	alice := identity.MustParse("alice/main")

	sx.Subscribe(path(t, "/docs"), alice)
	sx.Unsubscribe(path(t, "/docs"), alice)
	if got := sx.Subscribers(path(t, "/docs")); len(got) != 0 {
		t.Errorf("after unsubscribe: %v", got)
	}
	// Unsubscribing twice is harmless.
	sx.Unsubscribe(path(t, "/docs"), alice)
}

func TestLastSynced(t *testing.T) {
	sx := NewSubscriptionsIndex()
	alice := identity.MustParse("alice/main")
	docs := path(t, "/docs")

	if _, ok := sx.LastSynced(docs, alice); ok {
		t.Error("not subscribed yet")
	}
	sx.Subscribe(docs, alice)
	marker, ok := sx.LastSynced(docs, alice)
	if !ok || !marker.SyncedAt.IsZero() {
		t.Errorf("fresh subscription marker = %+v, ok=%v", marker, ok)
	}

	now := time.Now().UTC()
	sx.SetLastSynced(docs, alice, Marker{SyncedAt: now, Version: "v7"})
	marker, ok = sx.LastSynced(docs, alice)
	if !ok || !marker.SyncedAt.Equal(now) || marker.Version != "v7" {
		t.Errorf("marker = %+v", marker)
	}

	// Setting a marker for a non-subscriber is a no-op.
	bob := identity.MustParse("bob/main")
	sx.SetLastSynced(docs, bob, Marker{SyncedAt: now})
	if _, ok := sx.LastSynced(docs, bob); ok {
		t.Error("marker for non-subscriber should not stick")
	}
}

func TestResubscribe_KeepsMarker(t *testing.T) {
	sx := NewSubscriptionsIndex()
	alice := identity.MustParse("alice/main")
	docs := path(t, "/docs")

	sx.Subscribe(docs, alice)
	now := time.Now().UTC()
	sx.SetLastSynced(docs, alice, Marker{SyncedAt: now})
	sx.Subscribe(docs, alice)
	marker, _ := sx.LastSynced(docs, alice)
	if !marker.SyncedAt.Equal(now) {
		t.Error("re-subscribe reset the marker")
	}
}

func TestRekey(t *testing.T) {
	sx := NewSubscriptionsIndex()
	alice := identity.MustParse("alice/main")
	marker := Marker{SyncedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), Version: "7"}

	sx.Subscribe(path(t, "/docs"), alice)
	sx.SetLastSynced(path(t, "/docs"), alice, marker)

	sx.Rekey(path(t, "/docs"), path(t, "/archive/docs"))

	got, ok := sx.LastSynced(path(t, "/archive/docs"), alice)
	if !ok {
		t.Fatal("subscription did not move")
	}
	if !got.SyncedAt.Equal(marker.SyncedAt) || got.Version != marker.Version {
		t.Errorf("marker = %+v, want %+v", got, marker)
	}
	if _, ok := sx.LastSynced(path(t, "/docs"), alice); ok {
		t.Error("subscription left at old path")
	}
}

func TestRemoveSubtree(t *testing.T) {
	sx := NewSubscriptionsIndex()
	alice := identity.MustParse("alice/main")

	sx.Subscribe(path(t, "/docs"), alice)
	sx.Subscribe(path(t, "/docs/intro"), alice)
	sx.Subscribe(path(t, "/docs2"), alice)

	sx.RemoveSubtree(path(t, "/docs"))

	if subscribers := sx.Subscribers(path(t, "/docs/intro")); len(subscribers) != 0 {
		t.Errorf("subtree subscription survived: %v", subscribers)
	}
	if subscribers := sx.Subscribers(path(t, "/docs2")); len(subscribers) != 1 {
		t.Errorf("sibling subscription disturbed: %v", subscribers)
	}
}
