package application

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/example/room-reservations/internal/scheduler"
)

// requestFingerprint identifies the semantic payload of a create request so
// a reused idempotency key can be told apart from a genuine replay.
func requestFingerprint(actorID, roomID string, window scheduler.Window) string {
	payload := actorID + "\x00" + roomID + "\x00" +
		scheduler.FormatInstant(window.Start) + "\x00" +
		scheduler.FormatInstant(window.End)
	sum := blake2b.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
