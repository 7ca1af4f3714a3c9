// Package field validates and normalizes single answers collected by intake flows.
package field

import (
	"fmt"
	"strings"
)

// Reason classifies why an answer was rejected.
type Reason string

const (
	// ReasonEmpty means the trimmed answer had no content.
	ReasonEmpty Reason = "empty"
	// ReasonInvalidFormat means the answer did not match the expected shape.
	ReasonInvalidFormat Reason = "invalid_format"
)

// DefaultPlaceholder is substituted for skipped optional answers.
const DefaultPlaceholder = "не указано"

// SkipMarker lets the user skip an optional answer explicitly.
const SkipMarker = "-"

// Rejection is returned by validators for answers that cannot be accepted.
type Rejection struct {
	Reason Reason
	Kind   string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("field %s rejected: %s", r.Kind, r.Reason)
}

// Code exposes the reason for handler summaries.
func (r *Rejection) Code() string {
	return string(r.Reason)
}

// Message returns the text shown to the user before the step is asked again.
func (r *Rejection) Message() string {
	switch {
	case r.Reason == ReasonEmpty:
		return "⚠️ Ответ не может быть пустым."
	case r.Kind == KindPhone:
		return "⚠️ Неверный формат телефона. Пример: +380671234567"
	case r.Kind == KindPositiveInt:
		return "⚠️ Введите целое число больше нуля."
	default:
		return "⚠️ Неверный формат ответа."
	}
}

// Validator checks a raw answer and returns its normalized form.
type Validator interface {
	Validate(raw string) (string, error)
	Kind() string
}

// Validator kinds, also used as names in YAML flow definitions.
const (
	KindNonEmpty    = "non_empty"
	KindPhone       = "phone"
	KindPositiveInt = "positive_int"
	KindFreeText    = "free_text"
)

type nonEmpty struct{}

// NonEmpty accepts any answer with visible content.
func NonEmpty() Validator { return nonEmpty{} }

func (nonEmpty) Kind() string { return KindNonEmpty }

func (nonEmpty) Validate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &Rejection{Reason: ReasonEmpty, Kind: KindNonEmpty}
	}
	return s, nil
}

type phone struct{}

// Phone accepts an optional leading '+' followed by 7 to 15 digits.
// Spaces, dashes, dots and parentheses between digits are dropped.
func Phone() Validator { return phone{} }

func (phone) Kind() string { return KindPhone }

func (phone) Validate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &Rejection{Reason: ReasonEmpty, Kind: KindPhone}
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, s)
	digits := strings.TrimPrefix(s, "+")
	if len(digits) < 7 || len(digits) > 15 || !allDigits(digits) {
		return "", &Rejection{Reason: ReasonInvalidFormat, Kind: KindPhone}
	}
	return s, nil
}

type positiveInt struct{}

// PositiveInteger accepts base-10 integers greater than zero, of any length.
func PositiveInteger() Validator { return positiveInt{} }

func (positiveInt) Kind() string { return KindPositiveInt }

func (positiveInt) Validate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &Rejection{Reason: ReasonEmpty, Kind: KindPositiveInt}
	}
	if !allDigits(s) {
		return "", &Rejection{Reason: ReasonInvalidFormat, Kind: KindPositiveInt}
	}
	// Any length is accepted; leading zeros are dropped.
	n := strings.TrimLeft(s, "0")
	if n == "" {
		return "", &Rejection{Reason: ReasonInvalidFormat, Kind: KindPositiveInt}
	}
	return n, nil
}

type freeText struct {
	def string
}

// FreeText always succeeds. Empty answers and the skip marker become def,
// or DefaultPlaceholder when def is empty.
func FreeText(def string) Validator {
	if strings.TrimSpace(def) == "" {
		def = DefaultPlaceholder
	}
	return freeText{def: def}
}

func (freeText) Kind() string { return KindFreeText }

func (f freeText) Validate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == SkipMarker {
		return f.def, nil
	}
	return s, nil
}

// ByName resolves a validator by its kind. def only applies to free_text.
func ByName(name, def string) (Validator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case KindNonEmpty, "":
		return NonEmpty(), nil
	case KindPhone:
		return Phone(), nil
	case KindPositiveInt:
		return PositiveInteger(), nil
	case KindFreeText:
		return FreeText(def), nil
	}
	return nil, fmt.Errorf("unknown validator %q; allowed: non_empty, phone, positive_int, free_text", name)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
