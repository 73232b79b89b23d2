package identity

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Identity
		wantErr bool
	}{
		{"alice", Identity{Node: "alice"}, false},
		{"alice/main", Identity{Node: "alice", Profile: "main"}, false},
		{"alice/main/laptop", Identity{Node: "alice", Profile: "main", Device: "laptop"}, false},
		{"", Identity{}, true},
		{"alice//laptop", Identity{}, true},
		{"alice/main/laptop/extra", Identity{}, true},
		{"has space", Identity{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if err == nil && got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestCovers(t *testing.T) {
	node := MustParse("alice")
	profile := MustParse("alice/main")
	device := MustParse("alice/main/laptop")
	other := MustParse("bob/main")

	if !node.Covers(profile) || !node.Covers(device) {
		t.Error("node identity should cover its profiles and devices")
	}
	if !profile.Covers(device) {
		t.Error("profile identity should cover its devices")
	}
	if profile.Covers(MustParse("alice/work")) {
		t.Error("profile should not cover sibling profile")
	}
	if node.Covers(other) {
		t.Error("different nodes never cover each other")
	}
	if device.Covers(profile) {
		t.Error("device should not cover its profile")
	}
}

func TestProfileKey(t *testing.T) {
	if got := MustParse("alice/main/laptop").ProfileKey(); got != "alice/main" {
		t.Errorf("ProfileKey = %q", got)
	}
	if got := MustParse("alice").ProfileKey(); got != "alice" {
		t.Errorf("ProfileKey = %q", got)
	}
}
