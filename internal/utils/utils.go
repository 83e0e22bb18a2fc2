package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ErrOut is where ShowError prints. Tests swap it out.
var ErrOut io.Writer = os.Stderr

// ShowError is the unified error report for cocomask.
// It prints a formatted error box; commands return the error and Execute exits.
func ShowError(context string, err error) {
	fmt.Fprintf(ErrOut, "\n---------------------------------------------------------\n")
	fmt.Fprintf(ErrOut, "🚨 COCOMASK ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(ErrOut, "DETAILS: %v\n", err)
	}
	fmt.Fprintf(ErrOut, "---------------------------------------------------------\n")
}

// ContentKey creates a deterministic hash over the JSON form of parts.
// It is used to detect whether an image's inputs changed between runs.
func ContentKey(parts ...any) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, p := range parts {
		if err := enc.Encode(p); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileDigest hashes a file's content.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
