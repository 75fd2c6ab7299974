package placement

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxTitleLen       = 100
	maxDescriptionLen = 5000
)

// ContainsBannedTerm returns the first banned term that appears
// (case-insensitive) anywhere in title + description, or "".
func ContainsBannedTerm(title, description string, banned []string) string {
	if len(banned) == 0 {
		return ""
	}
	combined := strings.ToLower(title + " " + description)
	for _, term := range banned {
		if term == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(term)) {
			return term
		}
	}
	return ""
}

// Content is the user-editable part of an ad.
type Content struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Service) validateContent(c Content) error {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		return &ValidationError{Msg: "title is required"}
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return &ValidationError{Msg: fmt.Sprintf("title must be at most %d characters", maxTitleLen)}
	}
	if utf8.RuneCountInString(c.Description) > maxDescriptionLen {
		return &ValidationError{Msg: fmt.Sprintf("description must be at most %d characters", maxDescriptionLen)}
	}
	if term := ContainsBannedTerm(c.Title, c.Description, s.banned); term != "" {
		return &ValidationError{Msg: fmt.Sprintf("content contains a prohibited term (%q)", term)}
	}
	return nil
}
