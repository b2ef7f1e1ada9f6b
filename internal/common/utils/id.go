// Package utils provides utility functions for the clinic API.
//
// This package contains common utilities for request ID generation and
// conversion between human-entered dates and the compact date formats the
// upstream clinic system expects.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateRandomID generates a cryptographically secure random hex ID.
//
// Each byte generates 2 hex characters, so length/2 bytes are generated;
// for odd lengths the result will be 1 character shorter.
func GenerateRandomID(length int) (string, error) {
	bytes := make([]byte, length/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GenerateRequestID generates a unique request ID for tracing and correlation.
//
// Creates a request ID in the format "req-{randomHex}-{timestamp}" where
// randomHex is a 16-character random hex string and timestamp is the current
// Unix timestamp, so IDs sort roughly by creation time.
func GenerateRequestID() (string, error) {
	id, err := GenerateRandomID(16)
	if err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}
	return fmt.Sprintf("req-%s-%d", id, time.Now().Unix()), nil
}

// MustGenerateRequestID generates a request ID or panics on failure.
//
// Random ID generation only fails on system-level issues with the random
// number generator, which is treated as fatal.
func MustGenerateRequestID() string {
	id, err := GenerateRequestID()
	if err != nil {
		panic(fmt.Sprintf("failed to generate request ID: %v", err))
	}
	return id
}
