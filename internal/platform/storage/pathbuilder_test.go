package storage

import (
	"testing"
	"time"
)

func TestExportObjectPath(t *testing.T) {
	path, err := ExportObjectPath(ExportPathParams{
		UserID:    "reader-1",
		StoryID:   "01HSTORY",
		Extension: ".HTML",
		CreatedAt: time.Date(2025, 4, 2, 21, 15, 3, 0, time.FixedZone("PST", -8*3600)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "exports/reader-1/01HSTORY/20250403T051503Z.html"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestExportObjectPathRejectsInvalidSegments(t *testing.T) {
	cases := []ExportPathParams{
		{UserID: "../bad", StoryID: "s", Extension: "md"},
		{UserID: "u", StoryID: "a/b", Extension: "md"},
		{UserID: "u", StoryID: "s", Extension: ""},
		{UserID: " ", StoryID: "s", Extension: "md"},
	}
	for _, params := range cases {
		if _, err := ExportObjectPath(params); err == nil {
			t.Fatalf("expected error for %+v", params)
		}
	}
}
