package util

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSlugLength bounds the slugified part of a slug (prefix excluded)
const MaxSlugLength = 120

var slugSeparators = regexp.MustCompile(`[^a-z0-9\p{Han}]+`)

// GenerateSlug creates a URL-friendly slug from title
func GenerateSlug(title string) string {
	// Fold accents: "Café Crème" -> "Cafe Creme"
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}

	slug := strings.ToLower(folded)
	slug = slugSeparators.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")

	if len([]rune(slug)) > MaxSlugLength {
		slug = string([]rune(slug)[:MaxSlugLength])
		slug = strings.Trim(slug, "-")
	}

	return slug
}

// ProjectSlug namespaces a title slug with the owning project id.
// An empty title slug falls back to the given ordinal.
func ProjectSlug(projectID uint, title string, ordinal int) string {
	slug := GenerateSlug(title)
	if slug == "" {
		slug = fmt.Sprintf("item-%d", ordinal)
	}
	return fmt.Sprintf("%d-%s", projectID, slug)
}

// ParseTags parses tag strings into arrays
func ParseTags(tagStr string) []string {
	if tagStr == "" {
		return []string{}
	}

	// Remove brackets if present
	tagStr = strings.Trim(tagStr, "[]")

	tags := strings.Split(tagStr, ",")
	var cleanTags []string
	seen := make(map[string]struct{}, len(tags))

	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		tag = strings.Trim(tag, "\"'")
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		cleanTags = append(cleanTags, tag)
	}

	return cleanTags
}
