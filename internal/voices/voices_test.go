package voices

import "testing"

func TestBuiltinCatalog(t *testing.T) {
	c := Builtin()
	all := c.List()
	if len(all) != 11 {
		t.Fatalf("expected 11 voices, got %d", len(all))
	}

	v, ok := c.Get("alloy")
	if !ok || v.Label != "Alloy" {
		t.Fatalf("get alloy = %+v ok=%v", v, ok)
	}
	if _, ok := c.Get("robot9000"); ok {
		t.Fatal("unknown id should not resolve")
	}
}

func TestFilterByGender(t *testing.T) {
	c := Builtin()

	female := c.Filter("female")
	male := c.Filter("male")
	if len(female)+len(male) != len(c.List()) {
		t.Fatalf("gender partition mismatch: %d + %d != %d", len(female), len(male), len(c.List()))
	}
	for _, v := range female {
		if v.Gender != "female" {
			t.Fatalf("voice %s leaked into female filter", v.ID)
		}
	}
	if got := c.Filter("all"); len(got) != len(c.List()) {
		t.Fatalf("filter all returned %d voices", len(got))
	}
	if got := c.Filter(""); len(got) != len(c.List()) {
		t.Fatalf("empty filter returned %d voices", len(got))
	}
}

func TestResolve(t *testing.T) {
	c := Builtin()

	cases := map[string]string{
		"onyx":    "onyx",
		"ONYX":    "onyx",
		"Shimmer": "shimmer",
		"shimer":  "shimmer",
		"versse":  "verse",
	}
	for input, want := range cases {
		v, ok := c.Resolve(input)
		if !ok {
			t.Fatalf("resolve %q: no match", input)
		}
		if v.ID != want {
			t.Fatalf("resolve %q = %s, want %s", input, v.ID, want)
		}
	}

	if _, ok := c.Resolve(""); ok {
		t.Fatal("empty input should not resolve")
	}
}
