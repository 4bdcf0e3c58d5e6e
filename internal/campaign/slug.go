package campaign

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Slugify lowercases a title and joins its words with hyphens.
func Slugify(title string) string {
	s := nonSlugChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(title)), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "campaign"
	}
	return s
}

func randomSuffix() string {
	b := make([]byte, 4)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(suffixAlphabet))))
		if err != nil {
			b[i] = suffixAlphabet[i]
			continue
		}
		b[i] = suffixAlphabet[n.Int64()]
	}
	return string(b)
}
