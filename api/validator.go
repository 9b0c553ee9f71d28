package api

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Validator sanitizes and validates request parameters separate from HTTP
// concerns.
type Validator struct {
	plainSymbol   *regexp.Regexp
	onchainSymbol *regexp.Regexp
}

// NewValidator creates a request validator.
func NewValidator() *Validator {
	return &Validator{
		// Exchange pairs and equity tickers, including Yahoo index and
		// FX notation like ^GSPC and EURUSD=X.
		plainSymbol: regexp.MustCompile(`^[A-Za-z0-9.^=-]{1,20}$`),
		// On-chain tokens: "<chain>:<address>". Addresses are
		// case-sensitive, so only the chain part is normalized.
		onchainSymbol: regexp.MustCompile(`^[a-z]{2,20}:[A-Za-z0-9]{2,64}$`),
	}
}

// ValidateSymbol sanitizes a symbol and checks its form. Plain symbols are
// uppercased; on-chain symbols keep their address case.
func (v *Validator) ValidateSymbol(symbol string) (string, error) {
	symbol = sanitizeInput(symbol)
	if symbol == "" {
		return "", errors.New("symbol is required")
	}
	if strings.Contains(symbol, ":") {
		chain, rest, _ := strings.Cut(symbol, ":")
		symbol = strings.ToLower(chain) + ":" + rest
		if !v.onchainSymbol.MatchString(symbol) {
			return "", fmt.Errorf("invalid on-chain symbol %q, expected <chain>:<address>", symbol)
		}
		return symbol, nil
	}
	symbol = strings.ToUpper(symbol)
	if !v.plainSymbol.MatchString(symbol) {
		return "", fmt.Errorf("invalid symbol %q", symbol)
	}
	return symbol, nil
}

// ValidateSlotID parses and bounds-checks a slot path parameter.
func (v *Validator) ValidateSlotID(raw string, slotCount int) (int, error) {
	slot, err := strconv.Atoi(sanitizeInput(raw))
	if err != nil {
		return 0, errors.New("slot id must be a number")
	}
	if slot < 0 || slot >= slotCount {
		return 0, fmt.Errorf("slot %d out of range [0,%d)", slot, slotCount)
	}
	return slot, nil
}

// ValidateLimit parses the optional limit query parameter. Zero means no
// limit.
func (v *Validator) ValidateLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(sanitizeInput(raw))
	if err != nil {
		return 0, errors.New("limit must be a valid number")
	}
	if limit < 0 || limit > 5000 {
		return 0, errors.New("limit must be between 0 and 5000")
	}
	return limit, nil
}

// sanitizeInput trims whitespace, strips control characters and caps the
// length.
func sanitizeInput(input string) string {
	input = strings.TrimSpace(input)
	input = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, input)
	if len(input) > 100 {
		input = input[:100]
	}
	return input
}
