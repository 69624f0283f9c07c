package storage

import (
	"fmt"
	"strings"
	"time"
)

// ExportPathParams identify one rendered story export.
type ExportPathParams struct {
	UserID    string
	StoryID   string
	Extension string
	CreatedAt time.Time
}

// ExportObjectPath returns exports/{uid}/{storyID}/{timestamp}.{ext}. Each
// export gets its own object so earlier signed URLs keep their content.
func ExportObjectPath(params ExportPathParams) (string, error) {
	userID, err := validateSegment("userID", params.UserID)
	if err != nil {
		return "", err
	}
	storyID, err := validateSegment("storyID", params.StoryID)
	if err != nil {
		return "", err
	}
	ext, err := validateSegment("extension", strings.TrimPrefix(strings.ToLower(params.Extension), "."))
	if err != nil {
		return "", err
	}
	stamp := params.CreatedAt.UTC().Format("20060102T150405Z")
	return fmt.Sprintf("exports/%s/%s/%s.%s", userID, storyID, stamp, ext), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
