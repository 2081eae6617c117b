package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIIKoreanIdentifiers(t *testing.T) {
	out, changed := RedactPII("제 주민번호는 900101-1234567 이고 전화는 010-1234-5678 이에요")
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	if !strings.Contains(out, "[REDACTED_RRN]") {
		t.Fatalf("output missing RRN marker: %q", out)
	}
	if !strings.Contains(out, "[REDACTED_PHONE]") {
		t.Fatalf("output missing phone marker: %q", out)
	}
	if strings.Contains(out, "1234567") {
		t.Fatalf("resident number leaked: %q", out)
	}
}

func TestRedactPIILeavesPlainText(t *testing.T) {
	in := "오늘 점심은 된장찌개를 먹었어요"
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII(%q) = %q, %v", in, out, changed)
	}
}

func TestRedactorDisabled(t *testing.T) {
	in := "sam@example.com"
	out, changed := Redactor{}.Apply(in)
	if changed || out != in {
		t.Fatalf("disabled Apply() = %q, %v", out, changed)
	}
	out, changed = Redactor{Enabled: true}.Apply(in)
	if !changed || out != "[REDACTED_EMAIL]" {
		t.Fatalf("enabled Apply() = %q, %v", out, changed)
	}
}
