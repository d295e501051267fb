package uri

import "testing"

func TestParseNormalizesAndRejects(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
		want    string
	}{
		{"axiom://resources/a/b.md", false, "axiom://resources/a/b.md"},
		{"AXIOM://Resources/a//b.md", false, "axiom://resources/a/b.md"},
		{"axiom://resources/a/./b.md", true, ""},
		{"axiom://resources/a/../b.md", true, ""},
		{"axiom://resources/a%2Fb.md", true, ""},
		{"axiom://resources/%2e%2e/b.md", true, ""},
		{"axiom://bogus/a.md", true, ""},
		{"http://resources/a.md", true, ""},
	}

	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %q", tc.in, got.String())
			}

			continue
		}

		if err != nil {
			t.Fatalf("Parse(%q): unexpected error: %v", tc.in, err)
		}

		if got.String() != tc.want {
			t.Errorf("Parse(%q).String() = %q, want %q", tc.in, got.String(), tc.want)
		}
	}
}

func TestIsPrefixOf(t *testing.T) {
	a := must(t, "axiom://resources/a/foo")
	foobar := must(t, "axiom://resources/a/foobar")
	foox := must(t, "axiom://resources/a/foo/x")

	if a.IsPrefixOf(foobar) {
		t.Error("a/foo must not be a prefix of a/foobar")
	}

	if !a.IsPrefixOf(foox) {
		t.Error("a/foo must be a prefix of a/foo/x")
	}

	if !a.IsPrefixOf(a) {
		t.Error("a/foo must be a prefix of itself")
	}
}

func TestPathPrefixMatch(t *testing.T) {
	cases := []struct {
		uri, prefix string
		want        bool
	}{
		{"a/foo", "a/foobar", false},
		{"a/foo/x", "a/foo", true},
		{"a/foo", "a/foo", true},
	}

	for _, tc := range cases {
		got := PathPrefixMatch(tc.uri, tc.prefix)
		if got != tc.want {
			t.Errorf("PathPrefixMatch(%q,%q)=%v, want %v", tc.uri, tc.prefix, got, tc.want)
		}
	}
}

func TestParentOfRootUndefined(t *testing.T) {
	root, err := New(ScopeResources)
	if err != nil {
		t.Fatal(err)
	}

	_, ok := root.Parent()
	if ok {
		t.Error("parent of scope root must be undefined")
	}
}

func must(t *testing.T, s string) AxiomUri {
	t.Helper()

	u, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}

	return u
}
