// Package gateway integrates with the card payment gateway: checkout
// initiation, webhook authentication, and reconciliation of webhook
// events into the transaction ledger.
package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
)

// Signer computes the gateway's two checksum schemes. Both are plain
// sha256 over concatenated fields; the gateway documents them that way
// and verification has to be bit-exact, so no HMAC here.
type Signer struct {
	integritySecret string
	eventsSecret    string
}

func NewSigner(integritySecret, eventsSecret string) *Signer {
	return &Signer{integritySecret: integritySecret, eventsSecret: eventsSecret}
}

// Integrity returns the outbound signature handed to the payment widget,
// binding reference, amount and currency so the client cannot tamper
// with the charge. amountInCents is the minor-unit amount (COP x 100).
func (s *Signer) Integrity(reference string, amountInCents int64, currency string) string {
	h := sha256.Sum256([]byte(reference + strconv.FormatInt(amountInCents, 10) + currency + s.integritySecret))
	return hex.EncodeToString(h[:])
}

// EventChecksum returns the expected value of the x-event-checksum
// header for a webhook event. The hash input is the parsed field values
// concatenated, not the JSON body, so delivery-side reserialization
// cannot break verification.
func (s *Signer) EventChecksum(gatewayTxID, gatewayStatus string, amountInCents int64, timestamp int64) string {
	h := sha256.Sum256([]byte(gatewayTxID + gatewayStatus +
		strconv.FormatInt(amountInCents, 10) + strconv.FormatInt(timestamp, 10) + s.eventsSecret))
	return hex.EncodeToString(h[:])
}

// VerifyEvent compares the supplied header checksum against the expected
// one in constant time.
//
// The checksum input is the transaction's field values, so an event
// without a transaction payload has nothing to authenticate against and
// is rejected as unsigned rather than acknowledged.
func (s *Signer) VerifyEvent(ev *Event, header string) bool {
	if ev.Data.Transaction == nil {
		return false
	}
	tx := ev.Data.Transaction
	want := s.EventChecksum(tx.ID, tx.Status, tx.AmountInCents, ev.Timestamp)
	return subtle.ConstantTimeCompare([]byte(want), []byte(header)) == 1
}
