package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ComputeControllerID computes a deterministic controller_id using SHA256.
// Formula: SHA256(campaign_id|daily_budget_cents|created_at_unix)
// Returns hex-encoded hash (64 characters).
func ComputeControllerID(
	campaignID string,
	dailyBudget float64,
	createdAt time.Time,
) string {
	data := fmt.Sprintf("%s|%d|%d",
		campaignID,
		int64(dailyBudget*100),
		createdAt.UTC().Unix(),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
