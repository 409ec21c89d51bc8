package entgate

import (
	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/plan"
	"github.com/entgate/entgate/types"
)

// Re-exported types so embedding applications can work from the root
// package alone for the common paths.
type (
	// Money is a currency amount in minor units.
	Money = types.Money

	// Account is a tenant's billing account.
	Account = account.Account

	// Bucket identifies a quota source.
	Bucket = account.Bucket

	// Remaining is the per-bucket balance snapshot.
	Remaining = account.Remaining

	// Plan is a quota policy.
	Plan = plan.Plan
)

// Bucket values in evaluation order.
const (
	BucketUnlimited = account.BucketUnlimited
	BucketPurchased = account.BucketPurchased
	BucketFree      = account.BucketFree
	BucketTrial     = account.BucketTrial
	BucketPeriod    = account.BucketPeriod
	BucketNone      = account.BucketNone
)
