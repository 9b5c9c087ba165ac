// Package chain provides read-only access to the on-chain operator registry.
// The hub only ever asks one question of it: is this operator bonded and
// active, and what has it earned. Reward payout itself happens elsewhere.
package chain

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
)

var ErrOperatorNotFound = errors.New("operator not found in registry")

// OperatorInfo mirrors the registry's view of one operator.
type OperatorInfo struct {
	BondAmount      *big.Int `json:"bond_amount"`
	PendingEarnings *big.Int `json:"pending_earnings"`
	TotalEarned     *big.Int `json:"total_earned"`
	IsActive        bool     `json:"is_active"`
}

// Bonded reports whether the operator may receive routed traffic.
func (o *OperatorInfo) Bonded() bool {
	return o.IsActive && o.BondAmount != nil && o.BondAmount.Sign() > 0
}

// Verifier looks up an operator wallet in the on-chain registry. Lookup
// returns ErrOperatorNotFound for wallets the registry does not know.
type Verifier interface {
	Lookup(ctx context.Context, operator string) (*OperatorInfo, error)
}

type Config struct {
	RPCUrl          string `yaml:"RPCUrl" env:"CHAIN_RPC_URL" env-description:"Chain RPC URL for registry reads"`
	ContractAddress string `yaml:"contractAddress" env:"CHAIN_CONTRACT_ADDRESS" env-description:"Registry contract address"`
	CacheTTLMinutes int    `yaml:"cacheTTLMinutes" env:"CHAIN_CACHE_TTL_MINUTES" env-description:"Registry lookup cache TTL" env-default:"5"`
}
