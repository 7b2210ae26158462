package fraud

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gw-ledger/internal/models"
)

// Rule is one incremental check. Check reports the flag reason when it fires.
type Rule interface {
	Name() string
	Check(tx models.Transaction, now time.Time) (reason string, fired bool)
}

type largeAmountRule struct {
	threshold decimal.Decimal
}

func NewLargeAmountRule(threshold decimal.Decimal) Rule {
	return &largeAmountRule{threshold: threshold}
}

func (r *largeAmountRule) Name() string { return "large-amount" }

func (r *largeAmountRule) Check(tx models.Transaction, _ time.Time) (string, bool) {
	if tx.Amount.LessThan(r.threshold) {
		return "", false
	}
	return fmt.Sprintf("Large amount transaction: $%s", tx.Amount.String()), true
}

type velocityRule struct {
	tracker   *VelocityTracker
	threshold int
}

func NewVelocityRule(tracker *VelocityTracker, threshold int) Rule {
	return &velocityRule{tracker: tracker, threshold: threshold}
}

func (r *velocityRule) Name() string { return "velocity" }

func (r *velocityRule) Check(tx models.Transaction, now time.Time) (string, bool) {
	count := r.tracker.Observe(tx.AccountID, now)
	if count < r.threshold {
		return "", false
	}
	return fmt.Sprintf("Multiple transactions (%d) in a short period", count), true
}

type amountGroup struct {
	amount  decimal.Decimal
	members []models.Transaction
}

// unusualAmounts returns flag updates for every unflagged transaction whose
// exact amount repeats at least minRepeats times, is above minAmount and is
// not a multiple of roundMultiple.
func unusualAmounts(log []models.Transaction, cfg Config) []models.FlagUpdate {
	groups := make(map[string]*amountGroup)
	var order []string

	for _, tx := range log {
		if tx.Flagged || tx.ID == "" || !tx.Amount.IsPositive() {
			continue
		}
		key := tx.Amount.String()
		g, ok := groups[key]
		if !ok {
			g = &amountGroup{amount: tx.Amount}
			groups[key] = g
			order = append(order, key)
		}
		g.members = append(g.members, tx)
	}

	var updates []models.FlagUpdate
	for _, key := range order {
		g := groups[key]
		if len(g.members) < cfg.UnusualMinRepeats {
			continue
		}
		if !g.amount.GreaterThan(cfg.UnusualMinAmount) {
			continue
		}
		if !cfg.UnusualRoundMultiple.IsZero() && g.amount.Mod(cfg.UnusualRoundMultiple).IsZero() {
			continue
		}

		reason := fmt.Sprintf("Unusual pattern: Amount $%s used %d times", key, len(g.members))
		for _, tx := range g.members {
			updates = append(updates, models.FlagUpdate{ID: tx.ID, AccountID: tx.AccountID, Reason: reason})
		}
	}
	return updates
}
