package peers

import (
	"crypto/md5" // #nosec G501 -- identifier obfuscation, not a security boundary
	"encoding/hex"
	"regexp"
	"strconv"
)

// HashLen is the length of an identifier produced by [Hasher].
const HashLen = 32

// HashRx matches an identifier produced by [Hasher] inside arbitrary user input.
var HashRx = regexp.MustCompile(`[a-fA-F\d]{32}`)

// Hasher maps a numeric peer ID to an opaque identifier.
// The result depends only on the ID and the bot's username, so the same bot
// always produces the same identifier for the same peer.
type Hasher struct {
	salt string
}

// NewHasher creates a [Hasher] salted with the bot's username.
func NewHasher(botUsername string) Hasher {
	return Hasher{salt: botUsername}
}

// Hash returns a 32-character lowercase hex identifier of the provided ID.
func (h Hasher) Hash(id int64) string {
	sum := md5.Sum([]byte(strconv.FormatInt(id, 10) + h.salt)) // #nosec G401
	return hex.EncodeToString(sum[:])
}

// FindHash returns the first identifier-shaped token from the input.
func FindHash(s string) (string, bool) {
	match := HashRx.FindString(s)
	return match, match != ""
}
