package aigateway

import (
	"strings"
	"time"
)

const (
	DefaultTimeout       = 30 * time.Second
	EvaluateTimeout      = 60 * time.Second
	ParseSyllabusTimeout = 120 * time.Second // audio transcription is slow
)

// TimeoutFor is a static lookup on the endpoint path. parse_syllabus is
// checked first so a path naming both gets the longer budget.
func TimeoutFor(endpoint string) time.Duration {
	switch {
	case strings.Contains(endpoint, "parse_syllabus"):
		return ParseSyllabusTimeout
	case strings.Contains(endpoint, "evaluate"):
		return EvaluateTimeout
	default:
		return DefaultTimeout
	}
}
