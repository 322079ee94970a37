package engine

import (
	"strings"
	"time"

	"github.com/becomeliminal/memory-agent/core"
)

// RetrievalQuery joins message contents, oldest first, into the text used
// to search memories.
func RetrievalQuery(messages []core.Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

// RenderSystemPrompt fills {user_info} and {time} in template. Doubled
// braces render as literal braces.
func RenderSystemPrompt(template, userInfo string, now time.Time) string {
	r := strings.NewReplacer(
		"{{", "{",
		"}}", "}",
		"{user_info}", userInfo,
		"{time}", now.Format(time.RFC3339),
	)
	return r.Replace(template)
}
