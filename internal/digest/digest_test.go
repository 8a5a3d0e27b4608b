package digest

import "testing"

func TestHexKnownVectors(t *testing.T) {
	cases := map[string]string{
		"":    "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		"abc": "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
	}
	for input, want := range cases {
		if got := Hex(input); got != want {
			t.Errorf("Hex(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestMatches(t *testing.T) {
	stored := Hex("clinic-pass")
	if !Matches(stored, "clinic-pass") {
		t.Fatal("expected matching secret to match")
	}
	if Matches(stored, "Clinic-pass") {
		t.Fatal("expected different secret not to match")
	}
	if Matches(stored, "") {
		t.Fatal("expected empty secret not to match")
	}
}
