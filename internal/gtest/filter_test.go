package gtest

import (
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		expr string
		want []string
	}{
		{"", nil},
		{"Foo.*", []string{"Foo.*"}},
		{"Foo.*:Bar.*", []string{"Foo.*", "Bar.*"}},
		{"Foo.*:Bar.*-Baz.*", []string{"Foo.*", "Bar.*", "-Baz.*"}},
		{"-Foo.*", []string{"*", "-Foo.*"}},
		{"A-B-C", []string{"A", "-B", "C"}},
		{"A-B:C", []string{"A", "-B", "-C"}},
		{" Foo . * ", []string{"Foo.*"}},
		{"::Foo::", []string{"Foo"}},
		{"Foo.*-", []string{"Foo.*"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, Split(tt.expr)); diff != "" {
			t.Errorf("Split(%q) mismatch (-want +got):\n%s", tt.expr, diff)
		}
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		pats []string
		want string
	}{
		{nil, ""},
		{[]string{"Foo.*"}, "Foo.*"},
		{[]string{"Foo.*", "-Bar.*", "Baz"}, "Foo.*:Baz-Bar.*"},
		{[]string{"*", "-Foo.*", "-Bar.*"}, "*-Foo.*:Bar.*"},
	}
	for _, tt := range tests {
		if got := Join(tt.pats); got != tt.want {
			t.Errorf("Join(%v) = %q, want %q", tt.pats, got, tt.want)
		}
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name string
		pat  string
		want bool
	}{
		{"Foo.Bar", "Foo.Bar", true},
		{"Foo.Bar", "Foo.*", true},
		{"Foo.Bar", "*.Bar", true},
		{"Foo.Bar", "F?o.Bar", true},
		{"Foo.Bar", "Foo", false},
		{"Foo.Bar", "*", true},
		{"", "*", true},
		{"x", "", false},
		{"Inst/Suite.Case/0", "*/Suite.*", true},
		{"Foo.Bar", "foo.bar", false},
		{"aXbXc", "a*c", true},
		{"aXbXc", "a*b", false},
	}
	for _, tt := range tests {
		if got := Match(tt.name, tt.pat); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.name, tt.pat, got, tt.want)
		}
	}
}

func TestMatches(t *testing.T) {
	names := []string{"Foo.A", "Foo.B", "Bar.A", "Bar.B"}
	tests := []struct {
		pats []string
		want []string
	}{
		{[]string{"*"}, names},
		{[]string{"Foo.*"}, []string{"Foo.A", "Foo.B"}},
		{[]string{"*", "-Foo.*"}, []string{"Bar.A", "Bar.B"}},
		{[]string{"*", "-Foo.*", "Foo.A"}, []string{"Foo.A", "Bar.A", "Bar.B"}},
		{[]string{"*.A", "*.B", "-Bar.*"}, []string{"Foo.A", "Foo.B"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, Matches(tt.pats, names)); diff != "" {
			t.Errorf("Matches(%v) mismatch (-want +got):\n%s", tt.pats, diff)
		}
	}
}

func TestIsDisabled(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"DISABLED_Suite.Test", true},
		{"Suite.DISABLED_Test", true},
		{"Suite.Test", false},
		{"SuiteDISABLED.Test", false},
	}
	for _, tt := range tests {
		if got := IsDisabled(tt.name); got != tt.want {
			t.Errorf("IsDisabled(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBuildMatchesExactly(t *testing.T) {
	all := []string{
		"Foo.A", "Foo.B", "Foo.C",
		"Bar.A", "Bar.B",
		"Baz.Longish", "Baz.Longer",
		"Qux.DISABLED_Old",
	}
	cases := [][]string{
		all,
		{"Foo.A"},
		{"Foo.A", "Foo.B", "Foo.C"},
		{"Foo.A", "Foo.C"},
		{"Foo.A", "Bar.A"},
		{"Foo.A", "Foo.B", "Foo.C", "Bar.A", "Bar.B"},
		{"Baz.Longish", "Baz.Longer"},
		{"Foo.B", "Bar.B", "Baz.Longer"},
	}
	for _, selected := range cases {
		pats := Build(selected, all)
		got := Matches(pats, all)
		sort.Strings(got)
		want := append([]string(nil), selected...)
		sort.Strings(want)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Build(%v) = %v, selects wrong set (-want +got):\n%s", selected, pats, diff)
		}
	}
}

func TestBuildCompresses(t *testing.T) {
	all := []string{"Foo.A", "Foo.B", "Foo.C", "Bar.A", "Bar.B"}

	if got := Join(Build(all, all)); got != "*" {
		t.Errorf("Build(all) = %q, want %q", got, "*")
	}
	if got := Join(Build([]string{"Foo.A", "Foo.B", "Foo.C"}, all)); got != "F*" {
		t.Errorf("Build(Foo suite) = %q, want %q", got, "F*")
	}
	if got := Build(nil, all); got != nil {
		t.Errorf("Build(none) = %v, want nil", got)
	}
}

func TestCheck(t *testing.T) {
	all := []string{"Foo.A", "Foo.B", "Bar.DISABLED_B"}
	tests := []struct {
		expr        string
		runDisabled bool
		wantSubstr  string
		wantPattern string
	}{
		{"Foo.*", false, "", ""},
		{"Zzz.*", false, "does not match any test case name", "Zzz.*"},
		{"Bar.*", false, "only matches disabled tests", "Bar.*"},
		{"Bar.*", true, "", ""},
		{"Foo", false, "use wildcard", "Foo"},
		{"foo.a", false, "case sensitive", "foo.a"},
	}
	for _, tt := range tests {
		warning, pattern := Check(tt.expr, all, tt.runDisabled, nil)
		if tt.wantSubstr == "" {
			if warning != "" {
				t.Errorf("Check(%q) = %q, want no warning", tt.expr, warning)
			}
			continue
		}
		if !strings.Contains(warning, tt.wantSubstr) {
			t.Errorf("Check(%q) = %q, want substring %q", tt.expr, warning, tt.wantSubstr)
		}
		if pattern != tt.wantPattern {
			t.Errorf("Check(%q) pattern = %q, want %q", tt.expr, pattern, tt.wantPattern)
		}
	}
}

func TestCheckSuppression(t *testing.T) {
	all := []string{"Foo.A"}
	suppressed := map[string]bool{"Zzz.*": true}
	if warning, _ := Check("Zzz.*", all, false, suppressed); warning != "" {
		t.Errorf("Check with suppression = %q, want no warning", warning)
	}
}

