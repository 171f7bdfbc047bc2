package debate

import (
	"regexp"
	"strings"

	"github.com/Iron-Ham/debate/internal/domain"
)

const (
	// MaxSlugLength bounds generated slugs.
	MaxSlugLength = 50
	// MaxTitleLength bounds task titles taken from a request.
	MaxTitleLength = 100
	// standardMaxRounds caps trivial and standard tasks.
	standardMaxRounds = 2
)

var (
	slugStrip   = regexp.MustCompile(`[^a-z0-9\s_-]`)
	slugSpace   = regexp.MustCompile(`[\s_]+`)
	slugHyphens = regexp.MustCompile(`-+`)
)

// Slugify derives a task slug from a title: lowercase letters, digits and
// single hyphens, at most MaxSlugLength long, never starting or ending
// with a hyphen. It returns "" when nothing usable remains.
func Slugify(title string) string {
	s := strings.ToLower(title)
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpace.ReplaceAllString(s, "-")
	s = slugHyphens.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > MaxSlugLength {
		s = strings.TrimRight(s[:MaxSlugLength], "-")
	}
	return s
}

// TitleFromRequest returns the first MaxTitleLength characters of a
// request.
func TitleFromRequest(request string) string {
	request = strings.TrimSpace(request)
	runes := []rune(request)
	if len(runes) > MaxTitleLength {
		return string(runes[:MaxTitleLength])
	}
	return request
}

// EffectiveMaxRounds applies the round budget: complex tasks may use up to
// globalMax rounds, everything else at most two, and never fewer than one.
func EffectiveMaxRounds(requested, globalMax int, complexity domain.Complexity) int {
	if requested <= 0 {
		requested = globalMax
	}
	limit := standardMaxRounds
	if complexity == domain.ComplexityComplex {
		limit = globalMax
	}
	return max(1, min(requested, limit))
}
