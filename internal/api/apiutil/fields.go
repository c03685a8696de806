package apiutil

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	dateQueryKey = "date"
	typeQueryKey = "type"
)

func ParseNonNegativeIntField(raw string, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%s must be 0 or greater", field)
	}
	return value, nil
}

func ParsePositiveInt64Field(raw string, field string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", field)
	}
	return value, nil
}

// DateFromQuery reads a YYYY-MM-DD date from the query string.
func DateFromQuery(r *http.Request) (string, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(dateQueryKey))
	if raw == "" {
		return "", fmt.Errorf("%s is required", dateQueryKey)
	}
	if _, err := time.Parse("2006-01-02", raw); err != nil {
		return "", fmt.Errorf("%s must be a date in YYYY-MM-DD form", dateQueryKey)
	}
	return raw, nil
}

// ViewingTypeFromQuery reads the schedule view code from the query string.
func ViewingTypeFromQuery(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(typeQueryKey))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", typeQueryKey)
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", typeQueryKey)
	}
	return value, nil
}
