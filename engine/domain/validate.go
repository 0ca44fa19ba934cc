package domain

import "strings"

// ValidateUpload checks an uploaded file name before the CSV is parsed.
func ValidateUpload(filename string, size int64) error {
	if filename == "" {
		return NewValidationError("filename", filename, ErrInvalidUpload)
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".csv") {
		return NewValidationError("filename", filename, ErrInvalidUpload)
	}
	if size < 0 {
		return NewValidationError("size", "", ErrInvalidUpload)
	}
	return nil
}

// ValidateQuestion checks a chat or search query before embedding.
func ValidateQuestion(q string) error {
	if strings.TrimSpace(q) == "" {
		return NewValidationError("question", q, ErrInvalidQuestion)
	}
	return nil
}
