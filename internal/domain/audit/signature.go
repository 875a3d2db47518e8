package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"time"
)

type signaturePayload struct {
	EntryID           string `json:"entryId"`
	Seq               int64  `json:"seq"`
	EntityType        string `json:"entityType"`
	EntityID          string `json:"entityId"`
	FromState         string `json:"fromState"`
	ToState           string `json:"toState"`
	TriggeredBy       string `json:"triggeredBy"`
	Reason            string `json:"reason,omitempty"`
	PreviousEntryHash string `json:"previousEntryHash"`
	EntryHash         string `json:"entryHash"`
	Timestamp         string `json:"timestamp"`
}

func buildSignaturePayload(e *Entry) signaturePayload {
	return signaturePayload{
		EntryID:           e.ID.String(),
		Seq:               e.Seq,
		EntityType:        e.EntityType,
		EntityID:          e.EntityID,
		FromState:         e.FromState,
		ToState:           e.ToState,
		TriggeredBy:       e.TriggeredBy,
		Reason:            e.Reason,
		PreviousEntryHash: e.PreviousEntryHash,
		EntryHash:         e.EntryHash,
		Timestamp:         e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// SignEntry generates an HMAC signature for the entry.
func SignEntry(e *Entry, key []byte) ([]byte, error) {
	data, err := json.Marshal(buildSignaturePayload(e))
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(data)
	return mac.Sum(nil), nil
}

// VerifyEntrySignature verifies the HMAC signature for the entry.
func VerifyEntrySignature(e *Entry, key []byte) (bool, error) {
	if len(e.Signature) == 0 {
		return false, nil
	}
	expected, err := SignEntry(e, key)
	if err != nil {
		return false, err
	}
	return hmac.Equal(expected, e.Signature), nil
}
