package actions

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/petrijr/dealflow/pkg/api"
)

type hashInput struct {
	DealID     *string           `json:"dealId"`
	Transition api.TransitionRef `json:"transition"`
	Action     api.Action        `json:"action"`
}

// ActionHash is the idempotency key of an action dispatched for a deal on a
// transition: the hex sha256 of their canonical JSON encoding. Replaying the
// same transition yields the same key, so queue inserts deduplicate.
func ActionHash(dealID string, transition api.TransitionRef, action api.Action) (string, error) {
	in := hashInput{Transition: transition, Action: action}
	if dealID != "" {
		in.DealID = &dealID
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encode %s action for hashing: %w", action.Kind(), err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
