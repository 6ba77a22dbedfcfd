package match

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vreid/kakunin/internal/pkg/verification"
)

type Receipt struct {
	MatchID string `json:"match_id"`

	HomeTeam string             `json:"home_team"`
	AwayTeam string             `json:"away_team"`
	Score    verification.Score `json:"score"`

	Status       verification.Status `json:"status"`
	TrustScore   int                 `json:"trust_score"`
	Attestations int                 `json:"attestations"`

	Timestamp int64 `json:"timestamp"`
}

type SignedReceipt struct {
	Receipt Receipt `json:"receipt"`

	Signature string `json:"signature"`
}

func Sign(receipt Receipt, signatureSecret []byte) (*SignedReceipt, error) {
	signature, err := signature(receipt, signatureSecret)
	if err != nil {
		return nil, err
	}

	return &SignedReceipt{
		Receipt:   receipt,
		Signature: signature,
	}, nil
}

// CreateReceipt signs the settled state of a verified or finalized match.
func CreateReceipt(match *verification.MatchResult, signatureSecret []byte, now time.Time) (*SignedReceipt, error) {
	if !match.Status.Closed() {
		return nil, &verification.PreconditionError{Reason: "receipts are only issued for verified or finalized matches"}
	}

	return Sign(Receipt{
		MatchID:      match.ID,
		HomeTeam:     match.HomeTeam,
		AwayTeam:     match.AwayTeam,
		Score:        match.Score(),
		Status:       match.Status,
		TrustScore:   match.TrustScore,
		Attestations: len(match.Verifications),
		Timestamp:    now.Unix(),
	}, signatureSecret)
}

func VerifyReceipt(signed SignedReceipt, signatureSecret []byte) bool {
	expected, err := signature(signed.Receipt, signatureSecret)
	if err != nil {
		return false
	}

	return hmac.Equal([]byte(signed.Signature), []byte(expected))
}

func signature(receipt Receipt, signatureSecret []byte) (string, error) {
	marshaledReceipt, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal receipt: %w", err)
	}

	h := hmac.New(sha256.New, signatureSecret)
	h.Write(marshaledReceipt)

	return hex.EncodeToString(h.Sum(nil)), nil
}
