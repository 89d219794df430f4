package destination

// Strategy is how a batch reaches the live table.
type Strategy string

const (
	// StrategyDirect writes straight into the live table.
	StrategyDirect Strategy = "direct"

	// StrategyStaging writes into a staging table first and promotes it in
	// the same transaction.
	StrategyStaging Strategy = "staging_swap"
)

// DefaultStagingThreshold is the batch size at which the staging strategy
// takes over.
const DefaultStagingThreshold = 1000

// ChooseStrategy picks the write strategy for a batch of n records. Batches
// at or above the threshold stage; the boundary case n == threshold stages.
func ChooseStrategy(n, threshold int) Strategy {
	if threshold <= 0 {
		threshold = DefaultStagingThreshold
	}
	if n >= threshold {
		return StrategyStaging
	}
	return StrategyDirect
}
