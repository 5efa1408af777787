package types

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
)

var frameworkName = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// NormalizeFramework lowercases and trims a framework tag.
func NormalizeFramework(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidateFramework rejects tags that would not be usable as index keys.
func ValidateFramework(name string) error {
	n := NormalizeFramework(name)
	if n == "" {
		return fmt.Errorf("framework name is empty")
	}
	if len(n) > 64 {
		return fmt.Errorf("framework name %q exceeds 64 characters", name)
	}
	if !frameworkName.MatchString(n) {
		return fmt.Errorf("framework name %q contains invalid characters", name)
	}
	return nil
}

func ValidateQualityScore(score float32) error {
	if !unitInterval(score) {
		return fmt.Errorf("quality score %v outside [0,1]", score)
	}
	return nil
}

// ValidateStrength checks a relation strength.
func ValidateStrength(strength float32) error {
	if !unitInterval(strength) {
		return fmt.Errorf("relation strength %v outside [0,1]", strength)
	}
	return nil
}

func unitInterval(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0 && f <= 1
}

// SanitizeText strips NUL and non-whitespace control characters.
func SanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == 0 || (unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r') {
			return -1
		}
		return r
	}, s)
}

// Sanitize cleans the text fields of c in place. Binary and data payloads are left alone.
func (c *Chunk) Sanitize() {
	switch v := c.Content.(type) {
	case *CodeContent:
		v.Code = SanitizeText(v.Code)
		v.Language = SanitizeText(v.Language)
		v.Framework = SanitizeText(v.Framework)
	case *ConfigContent:
		v.Content = SanitizeText(v.Content)
	case *DocumentationContent:
		v.Content = SanitizeText(v.Content)
	}
	for i, t := range c.Metadata.Tags {
		c.Metadata.Tags[i] = SanitizeText(t)
	}
	for i, p := range c.Metadata.Patterns {
		c.Metadata.Patterns[i] = SanitizeText(p)
	}
	c.Metadata.Source = SanitizeText(c.Metadata.Source)
}
