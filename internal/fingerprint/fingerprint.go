// Package fingerprint computes the content hash that identifies a listing
// within a job.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/listing-scanner/internal/models"
)

// Identity field names. Provider extras are added under "stable.<key>".
const (
	FieldProvider = "provider"
	FieldURL      = "url"
	FieldTitle    = "title"
	stablePrefix  = "stable."
)

// Compute hashes a field set. Keys are sorted and every key and value is
// length-prefixed, so no choice of separators inside values can make two
// different field sets serialize identically.
func Compute(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		v := fields[k]
		h.Write([]byte(strconv.Itoa(len(k))))
		h.Write([]byte{':'})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(strconv.Itoa(len(v))))
		h.Write([]byte{':'})
		h.Write([]byte(v))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StableFields extracts the identity of a listing. Display fields (price,
// description, location hint, coordinates) are not part of it, so a changed
// price shows up as a diff on the same listing.
func StableFields(l models.NormalizedListing) map[string]string {
	fields := make(map[string]string, 3+len(l.Stable))
	fields[FieldProvider] = strings.TrimSpace(l.Provider)
	fields[FieldURL] = strings.TrimSpace(l.URL)
	fields[FieldTitle] = collapseSpace(l.Title)
	for k, v := range l.Stable {
		fields[stablePrefix+k] = strings.TrimSpace(v)
	}
	return fields
}

// Of returns the content hash of a normalized listing
func Of(l models.NormalizedListing) string {
	return Compute(StableFields(l))
}

// Valid reports whether s looks like a hash produced by Compute
func Valid(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
