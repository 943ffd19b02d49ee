package namefmt

import (
	"strings"
	"testing"
)

func TestNormalizeClientTitleCase(t *testing.T) {
	if got := NormalizeClient("CAMIL ALIMENTOS", nil); got != "Camil Alimentos" {
		t.Fatalf("expected title case, got %q", got)
	}
	if got := NormalizeClient("client", nil); got != "Client" {
		t.Fatalf("expected single word capitalized, got %q", got)
	}
}

func TestNormalizeClientEmptyFallsBack(t *testing.T) {
	for _, raw := range []string{"", "   "} {
		if got := NormalizeClient(raw, nil); got != "Unassigned" {
			t.Fatalf("expected Unassigned for %q, got %q", raw, got)
		}
	}
}

func TestNormalizeClientStripsInvalidChars(t *testing.T) {
	got := NormalizeClient("Client/Test*Name", nil)
	if strings.ContainsAny(got, `/*`) {
		t.Fatalf("invalid chars survived: %q", got)
	}
}

func TestNormalizeClientOverrideWins(t *testing.T) {
	overrides := NewOverrides(map[string]string{
		"ABC CORP": "ABC Corp",
		"iTech":    "iTech Solutions",
	})
	if got := NormalizeClient("abc corp", overrides); got != "ABC Corp" {
		t.Fatalf("expected override, got %q", got)
	}
	if got := NormalizeClient("ITECH", overrides); got != "iTech Solutions" {
		t.Fatalf("expected case-insensitive override match, got %q", got)
	}
	if got := NormalizeClient("other co", overrides); got != "Other Co" {
		t.Fatalf("expected title case for non-override, got %q", got)
	}
}

func TestSanitizeSegment(t *testing.T) {
	got := SanitizeSegment(`a\b/c:d`, 0)
	if strings.ContainsAny(got, `\/:`) {
		t.Fatalf("invalid chars survived: %q", got)
	}
	if got := SanitizeSegment("  a   b   ", 0); got != "a b" {
		t.Fatalf("expected collapsed whitespace, got %q", got)
	}
	if got := SanitizeSegment("", 0); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestSanitizeSegmentTruncatesLong(t *testing.T) {
	long := strings.Repeat("A", 300)
	got := SanitizeSegment(long, 100)
	if len([]rune(got)) > 100 {
		t.Fatalf("expected <= 100 runes, got %d", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
}

func TestSanitizeFileName(t *testing.T) {
	if got := SanitizeFileName(`C:\tmp\report.pdf`, 0); got != "report.pdf" {
		t.Fatalf("expected path stripped, got %q", got)
	}
	got := SanitizeFileName(`spec?.pdf`, 0)
	if strings.Contains(got, "?") {
		t.Fatalf("invalid char survived: %q", got)
	}
	if got := SanitizeFileName("", 0); got != "attachment" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestSanitizeFileNamePreservesExtension(t *testing.T) {
	long := strings.Repeat("x", 300) + ".pdf"
	got := SanitizeFileName(long, 50)
	if len([]rune(got)) > 50 {
		t.Fatalf("expected <= 50 runes, got %d", len([]rune(got)))
	}
	if !strings.HasSuffix(got, ".pdf") {
		t.Fatalf("expected extension preserved, got %q", got)
	}
}

func TestBuildFolderName(t *testing.T) {
	name := BuildFolderName(12345, "001", "Implement login")
	if name != "12345 - 001 - Implement login" {
		t.Fatalf("unexpected folder name %q", name)
	}
	name = BuildFolderName(100, "", "Portal")
	if name != "100 - N/A - Portal" {
		t.Fatalf("expected proposal placeholder, got %q", name)
	}
	name = BuildFolderName(1, "P1", "")
	if name != "1 - P1 - Untitled" {
		t.Fatalf("expected title fallback, got %q", name)
	}
}

func TestBuildFolderNameNeverTruncatesID(t *testing.T) {
	name := BuildFolderName(987654321, "P-9", strings.Repeat("t", 400))
	if !strings.HasPrefix(name, "987654321 - P-9 - ") {
		t.Fatalf("identifier prefix mangled: %q", name)
	}
	if len([]rune(name)) > MaxSegmentLength {
		t.Fatalf("segment too long: %d", len([]rune(name)))
	}
}

func TestClientFromAreaPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`Org\Projects\ABC Corp`, "ABC Corp"},
		{"Org/Projects/ABC Corp", "ABC Corp"},
		{"Solo", "Solo"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ClientFromAreaPath(tc.in); got != tc.want {
			t.Fatalf("ClientFromAreaPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
