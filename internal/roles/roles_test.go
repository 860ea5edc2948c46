package roles

import "testing"

func TestAtLeast(t *testing.T) {
	tests := []struct {
		role     Role
		required Role
		want     bool
	}{
		{Client, Client, true},
		{Client, Admin, false},
		{Admin, Client, true},
		{Admin, Support, true},
		{SuperAdmin, Admin, true},
		{Support, Admin, false},
		{Unknown, Client, false},
		{Admin, Unknown, false},
	}
	for _, tt := range tests {
		if got := AtLeast(tt.role, tt.required); got != tt.want {
			t.Errorf("AtLeast(%s, %s) = %v, want %v", tt.role, tt.required, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	r, err := Parse(" Admin ")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if r != Admin {
		t.Errorf("Expected admin, got %s", r)
	}

	if _, err := Parse("root"); err == nil {
		t.Error("Expected error for unknown role")
	}
}

func TestNameAtLeast(t *testing.T) {
	if !NameAtLeast("super_admin", Admin) {
		t.Error("Expected super_admin to satisfy admin")
	}
	if NameAtLeast("bogus", Client) {
		t.Error("Expected unknown role name to be rejected")
	}
}
