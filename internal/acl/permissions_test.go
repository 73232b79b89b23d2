package acl

import (
	"testing"

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

func TestGet_AncestorInheritance(t *testing.T) {
	px := NewPermissionsIndex()
	alice := identity.MustParse("alice/main")
	bob := identity.MustParse("bob/main")

	px.Set(path(t, "/docs"), alice, LevelRead)

	if got := px.Get(path(t, "/docs/intro"), alice); got != LevelRead {
		t.Errorf("inherited permission = %v, want read", got)
	}
	if got := px.Get(path(t, "/docs/intro/deep/nested"), alice); got != LevelRead {
		t.Errorf("deep inherited permission = %v, want read", got)
	}
	if got := px.Get(path(t, "/docs/intro"), bob); got != LevelNone {
		t.Errorf("unrelated identity = %v, want none (default deny)", got)
	}
	if got := px.Get(path(t, "/other"), alice); got != LevelNone {
		t.Errorf("sibling path = %v, want none", got)
	}
}

func TestGet_DeeperGrantOverrides(t *testing.T) {
	px := NewPermissionsIndex()
	alice := identity.MustParse("alice/main")

	px.Set(path(t, "/docs"), alice, LevelAdmin)
	px.Set(path(t, "/docs/secret"), alice, LevelRead)

	if got := px.Get(path(t, "/docs/secret"), alice); got != LevelRead {
		t.Errorf("deeper explicit grant should win: got %v", got)
	}
	if got := px.Get(path(t, "/docs/secret/inner"), alice); got != LevelRead {
		t.Errorf("descendants of the deeper grant inherit it: got %v", got)
	}
	if got := px.Get(path(t, "/docs/open"), alice); got != LevelAdmin {
		t.Errorf("sibling keeps the broad grant: got %v", got)
	}
}

func TestGet_RootGrant(t *testing.T) {
	px := NewPermissionsIndex()
	alice := identity.MustParse("alice/main")
	px.Set(vrpath.Root(), alice, LevelWrite)
	if got := px.Get(path(t, "/anything/at/all"), alice); got != LevelWrite {
		t.Errorf("root grant should reach every path: got %v", got)
	}
}

func TestGet_BroaderIdentityCovers(t *testing.T) {
	px := NewPermissionsIndex()
	nodeLevel := identity.MustParse("alice")
	device := identity.MustParse("alice/main/laptop")

	px.Set(path(t, "/docs"), nodeLevel, LevelWrite)
	if got := px.Get(path(t, "/docs/intro"), device); got != LevelWrite {
		t.Errorf("node-level grant should cover the device: got %v", got)
	}
}

func TestRemove(t *testing.T) {
	px := NewPermissionsIndex()
	alice := identity.MustParse("alice/main")

	px.Set(path(t, "/docs"), alice, LevelWrite)
	px.Set(path(t, "/docs/intro"), alice, LevelRead)
	px.Remove(path(t, "/docs/intro"), alice)

	// With the explicit deeper grant removed, inheritance resumes.
	if got := px.Get(path(t, "/docs/intro"), alice); got != LevelWrite {
		t.Errorf("after remove: %v, want inherited write", got)
	}
	px.Remove(path(t, "/docs"), alice)
	if got := px.Get(path(t, "/docs/intro"), alice); got != LevelNone {
		t.Errorf("after removing all grants: %v, want none", got)
	}
}

func TestGrantees(t *testing.T) {
	px := NewPermissionsIndex()
	alice := identity.MustParse("alice/main")
	bob := identity.MustParse("bob/main")
	carol := identity.MustParse("carol/main")

	px.Set(path(t, "/docs"), alice, LevelRead)
	px.Set(path(t, "/docs/intro"), bob, LevelWrite)
	px.Set(path(t, "/other"), carol, LevelAdmin)
	px.Set(path(t, "/docs/none"), carol, LevelNone)

	got := px.Grantees(path(t, "/docs"))
	if len(got) != 2 {
		t.Fatalf("Grantees = %v, want [alice/main bob/main]", got)
	}
	if got[0].String() != "alice/main" || got[1].String() != "bob/main" {
		t.Errorf("Grantees = %v", got)
	}
}

func TestLevel_Ordering(t *testing.T) {
	if !LevelAdmin.AtLeast(LevelWrite) || !LevelWrite.AtLeast(LevelRead) || !LevelRead.AtLeast(LevelNone) {
		t.Error("level ordering broken")
	}
	if LevelRead.AtLeast(LevelWrite) {
		t.Error("read should not satisfy write")
	}
}

func TestLevel_TextRoundTrip(t *testing.T) {
	for _, l := range []Level{LevelNone, LevelRead, LevelWrite, LevelAdmin} {
		data, err := l.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var back Level
		if err := back.UnmarshalText(data); err != nil {
			t.Fatal(err)
		}
		if back != l {
			t.Errorf("round trip %v -> %v", l, back)
		}
	}
}

func TestRekey(t *testing.T) {
	px := NewPermissionsIndex()
	alice := identity.MustParse("alice/main")
	bob := identity.MustParse("bob/main")

	px.Set(path(t, "/docs"), alice, LevelRead)
	px.Set(path(t, "/docs/intro"), bob, LevelWrite)
	px.Set(path(t, "/other"), bob, LevelRead)

	px.Rekey(path(t, "/docs"), path(t, "/archive/docs"))

	if got := px.Get(path(t, "/archive/docs"), alice); got != LevelRead {
		t.Errorf("moved grant = %v, want read", got)
	}
	if got := px.Get(path(t, "/archive/docs/intro"), bob); got != LevelWrite {
		t.Errorf("moved nested grant = %v, want write", got)
	}
	if got := px.Get(path(t, "/docs"), alice); got != LevelNone {
		t.Errorf("grant left at old path: %v", got)
	}
	if got := px.Get(path(t, "/other"), bob); got != LevelRead {
		t.Errorf("unrelated grant disturbed: %v", got)
	}
}

func TestRemoveSubtree(t *testing.T) {
	px := NewPermissionsIndex()
	alice := identity.MustParse("alice/main")

	px.Set(path(t, "/docs"), alice, LevelRead)
	px.Set(path(t, "/docs/intro"), alice, LevelWrite)
	px.Set(path(t, "/docs2"), alice, LevelRead)

	px.RemoveSubtree(path(t, "/docs"))

	if got := px.Get(path(t, "/docs/intro"), alice); got != LevelNone {
		t.Errorf("subtree grant survived: %v", got)
	}
	if got := px.Get(path(t, "/docs2"), alice); got != LevelRead {
		t.Errorf("sibling with shared name prefix disturbed: %v", got)
	}
}
