package bridge

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"time"
)

const nonceSize = 32

// authTimeout bounds how long an unauthenticated client may hold the
// single session slot.
const authTimeout = 10 * time.Second

// errAuthFailed indicates the client's challenge response did not verify.
var errAuthFailed = errors.New("authentication failed")

// SolveChallenge computes the response to a nonce challenge: the
// HMAC-SHA256 of the nonce under the shared token.
func SolveChallenge(token string, nonce []byte) []byte {
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write(nonce)
	return mac.Sum(nil)
}

// challengeClient sends a random nonce as the first frame after accept and
// requires the client's first frame to be the matching HMAC before any
// payload traffic is allowed.
func challengeClient(conn net.Conn, dec *Decoder, token string) error {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	frame, err := EncodeFrame(nonce)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(authTimeout)
	if err = conn.SetDeadline(deadline); err != nil {
		return err
	}
	defer conn.SetDeadline(time.Time{})

	if _, err = conn.Write(frame); err != nil {
		return fmt.Errorf("send challenge: %w", err)
	}

	response, err := dec.Next()
	if err != nil {
		return fmt.Errorf("read challenge response: %w", err)
	}
	if !hmac.Equal(response, SolveChallenge(token, nonce)) {
		return errAuthFailed
	}
	return nil
}
