package services

import (
	"errors"
	"testing"
)

func TestNormalizeParticipantsIncludesActorAndDeduplicates(t *testing.T) {
	participants, err := normalizeParticipants(42, []int64{7, 7, 42, 3})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	want := []int64{3, 7, 42}
	if len(participants) != len(want) {
		t.Fatalf("expected %v, got %v", want, participants)
	}
	for i := range want {
		if participants[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, participants)
		}
	}
}

func TestNormalizeParticipantsIsOrderInsensitive(t *testing.T) {
	a, err := normalizeParticipants(1, []int64{2})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	b, err := normalizeParticipants(2, []int64{1})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(a) != len(b) {
		t.Fatalf("expected equal sets, got %v and %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected equal sets, got %v and %v", a, b)
		}
	}
}

func TestNormalizeParticipantsRejectsNonPositiveIDs(t *testing.T) {
	if _, err := normalizeParticipants(42, []int64{7, 0}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := normalizeParticipants(42, []int64{-3}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestValidateMessageInputText(t *testing.T) {
	content, contentType, mediaURL, err := validateMessageInput("  hi there  ", "", nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if content != "hi there" {
		t.Errorf("expected trimmed content, got %q", content)
	}
	if contentType != "text" {
		t.Errorf("expected text default, got %q", contentType)
	}
	if mediaURL != nil {
		t.Errorf("expected no media url, got %q", *mediaURL)
	}
}

func TestValidateMessageInputRejectsEmptyText(t *testing.T) {
	if _, _, _, err := validateMessageInput("   ", "text", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestValidateMessageInputRejectsTextWithMedia(t *testing.T) {
	url := "https://cdn.example.com/pic.jpg"
	if _, _, _, err := validateMessageInput("hi", "text", &url); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestValidateMessageInputMediaRequiresURL(t *testing.T) {
	if _, _, _, err := validateMessageInput("caption", "image", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	empty := "   "
	if _, _, _, err := validateMessageInput("caption", "image", &empty); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestValidateMessageInputMediaAllowsEmptyCaption(t *testing.T) {
	url := "https://cdn.example.com/clip.mp4"
	content, contentType, mediaURL, err := validateMessageInput("", "video", &url)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if content != "" {
		t.Errorf("expected empty caption, got %q", content)
	}
	if contentType != "video" {
		t.Errorf("expected video, got %q", contentType)
	}
	if mediaURL == nil || *mediaURL != url {
		t.Errorf("expected media url %q, got %v", url, mediaURL)
	}
}

func TestValidateMessageInputRejectsUnknownContentType(t *testing.T) {
	if _, _, _, err := validateMessageInput("hi", "audio", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
