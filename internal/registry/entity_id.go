package registry

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	entityIDRegexp = regexp.MustCompile(`^[a-z0-9_]+\.[a-z0-9_]+$`)
	slugStrip      = regexp.MustCompile(`[^a-z0-9_]+`)
	slugSqueeze    = regexp.MustCompile(`_+`)
)

// ValidEntityID reports whether id has the "domain.object_id" form with
// lowercase letters, digits and underscores only.
func ValidEntityID(id string) bool {
	if !entityIDRegexp.MatchString(id) {
		return false
	}
	domain, object := SplitEntityID(id)
	return validSlug(domain) && validSlug(object)
}

func validSlug(s string) bool {
	return s != "" && !strings.HasPrefix(s, "_") && !strings.HasSuffix(s, "_") && !strings.Contains(s, "__")
}

// SplitEntityID splits "domain.object_id" into its two halves. The object
// part is empty when id has no dot.
func SplitEntityID(id string) (string, string) {
	domain, object, _ := strings.Cut(id, ".")
	return domain, object
}

// Slugify turns a display name into an object id fragment.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugStrip.ReplaceAllString(s, "_")
	s = slugSqueeze.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

func entityID(domain, objectID string) string {
	return fmt.Sprintf("%s.%s", domain, objectID)
}
