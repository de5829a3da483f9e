package billing

import (
	"context"
	"errors"
)

// CheckAccess reports whether userID holds at least min.
// Users without a record are guests. Store errors deny access and are
// returned so callers can answer with 5xx.
func CheckAccess(ctx context.Context, reader RecordReader, userID string, min Tier) (bool, Tier, error) {
	rec, err := reader.GetRecord(ctx, userID)
	if errors.Is(err, ErrRecordNotFound) {
		return TierGuest.AtLeast(min), TierGuest, nil
	}
	if err != nil {
		return false, TierGuest, err
	}
	return rec.Tier.AtLeast(min), rec.Tier, nil
}
