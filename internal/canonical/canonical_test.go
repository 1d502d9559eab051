package canonical

import "testing"

func TestHandlePhoneVariants(t *testing.T) {
	variants := []string{
		"+12125550123",
		"tel:+12125550123",
		"12125550123",
		"(212) 555-0123",
		"212-555-0123",
	}
	for _, v := range variants {
		if got := Handle(v); got != "2125550123" {
			t.Errorf("Handle(%q) = %q, want 2125550123", v, got)
		}
	}
}

func TestHandleEmailVariants(t *testing.T) {
	if got := Handle("John.Smith@Example.COM"); got != "john.smith@example.com" {
		t.Errorf("got %q", got)
	}
	if got := Handle("mailto:John.Smith@Example.COM "); got != "john.smith@example.com" {
		t.Errorf("got %q", got)
	}
}

func TestHandleIdempotent(t *testing.T) {
	inputs := []string{"+12125550123", "John@Example.com", "user#1234@discord", "447911123456"}
	for _, in := range inputs {
		once := Handle(in)
		if twice := Handle(once); twice != once {
			t.Errorf("Handle not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestHandleInternationalKeepsDigits(t *testing.T) {
	// Only the single leading "1" of an 11-digit number is treated as a
	// country code.
	if got := Handle("+44 7911 123456"); got != "447911123456" {
		t.Errorf("got %q", got)
	}
	if got := Handle("1112223333"); got != "1112223333" {
		t.Errorf("10-digit number starting with 1 must not be truncated, got %q", got)
	}
}

func TestHandleTypeOf(t *testing.T) {
	cases := map[string]HandleType{
		"+12125550123":      HandlePhone,
		"(212) 555-0123":    HandlePhone,
		"jane@example.com":  HandleEmail,
		"mailto:a@b.org":    HandleEmail,
		"user#1234@discord": HandlePlatformID,
		"signal_7f3a":       HandlePlatformID,
	}
	for in, want := range cases {
		if got := HandleTypeOf(in); got != want {
			t.Errorf("HandleTypeOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContentHashStability(t *testing.T) {
	a := ContentHash("[Me 3:04 PM] hello\n[Jane 3:05 PM] hi")
	b := ContentHash("[Me 3:04 PM] hello\n[Jane 3:05 PM] hi")
	c := ContentHash("[Me 3:04 PM] hello\n[Jane 3:05 PM] hi!")
	if a != b {
		t.Fatal("same text must hash to same id")
	}
	if a == c {
		t.Fatal("different text must hash to different id")
	}
	if len(a) != 64 {
		t.Fatalf("unexpected hash length %d", len(a))
	}
}
