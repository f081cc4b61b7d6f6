// Package identity derives one-way, purpose-bound identifiers from the
// persisted anonymous device id.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Purpose separates derivations so two identifiers derived from the same
// device id cannot be linked to each other.
type Purpose string

const (
	PurposePresence Purpose = "presence"
	PurposeCheckin  Purpose = "checkin"
	PurposeVote     Purpose = "vote"
)

var ErrEmptyDeviceID = errors.New("anonymous device id is empty")

// Derive returns hex(HMAC-SHA256(salt, purpose || 0x00 || anonID)) truncated
// to 128 bits. The same inputs always give the same output.
func Derive(purpose Purpose, anonID, salt string) (string, error) {
	if anonID == "" {
		return "", ErrEmptyDeviceID
	}
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(purpose))
	mac.Write([]byte{0})
	mac.Write([]byte(anonID))
	sum := mac.Sum(nil)
	return hex.EncodeToString(sum[:16]), nil
}

// DeviceHash is the presence-counting identifier.
func DeviceHash(anonID, salt string) (string, error) {
	return Derive(PurposePresence, anonID, salt)
}
