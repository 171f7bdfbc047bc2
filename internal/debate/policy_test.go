package debate

import (
	"regexp"
	"strings"
	"testing"

	"github.com/Iron-Ham/debate/internal/domain"
)

var slugShape = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Add Redis caching", "add-redis-caching"},
		{"  Fix: the  login_flow!! ", "fix-the-login-flow"},
		{"--already--hyphenated--", "already-hyphenated"},
		{"Émoji ✨ only", "moji-only"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlugify_Shape(t *testing.T) {
	inputs := []string{
		"Refactor the authentication layer across all services to use OAuth2 and drop sessions",
		strings.Repeat("abc-", 30),
		strings.Repeat("x", 49) + " yz",
		"A_B c---d",
	}
	for _, in := range inputs {
		got := Slugify(in)
		if len(got) > MaxSlugLength {
			t.Errorf("Slugify(%q) length = %d, want <= %d", in, len(got), MaxSlugLength)
		}
		if !slugShape.MatchString(got) {
			t.Errorf("Slugify(%q) = %q, not a clean slug", in, got)
		}
	}
}

func TestTitleFromRequest(t *testing.T) {
	long := strings.Repeat("é", 150)
	if got := TitleFromRequest(long); len([]rune(got)) != MaxTitleLength {
		t.Errorf("TitleFromRequest() rune length = %d, want %d", len([]rune(got)), MaxTitleLength)
	}
	if got := TitleFromRequest("  short  "); got != "short" {
		t.Errorf("TitleFromRequest() = %q, want %q", got, "short")
	}
}

func TestEffectiveMaxRounds(t *testing.T) {
	tests := []struct {
		name       string
		requested  int
		global     int
		complexity domain.Complexity
		want       int
	}{
		{"standard capped at two", 5, 3, domain.ComplexityStandard, 2},
		{"trivial capped at two", 0, 3, domain.ComplexityTrivial, 2},
		{"complex uses global", 0, 3, domain.ComplexityComplex, 3},
		{"complex honours lower request", 2, 5, domain.ComplexityComplex, 2},
		{"complex capped at global", 9, 4, domain.ComplexityComplex, 4},
		{"never below one", 0, 0, domain.ComplexityStandard, 1},
		{"request of one", 1, 3, domain.ComplexityStandard, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EffectiveMaxRounds(tt.requested, tt.global, tt.complexity); got != tt.want {
				t.Errorf("EffectiveMaxRounds(%d, %d, %s) = %d, want %d",
					tt.requested, tt.global, tt.complexity, got, tt.want)
			}
		})
	}
}
