package chain

import (
	"context"
	"math/big"
	"strings"
	"sync"
)

// StaticVerifier serves operator records from a fixed in-memory set. Used in
// local/dev setups and in tests, where no chain is available.
type StaticVerifier struct {
	mu        sync.RWMutex
	operators map[string]OperatorInfo
}

func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{operators: map[string]OperatorInfo{}}
}

// SetOperator adds or replaces a record. A nil bond counts as zero.
func (v *StaticVerifier) SetOperator(operator string, bond *big.Int, active bool) {
	if bond == nil {
		bond = big.NewInt(0)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.operators[strings.ToLower(operator)] = OperatorInfo{
		BondAmount:      bond,
		PendingEarnings: big.NewInt(0),
		TotalEarned:     big.NewInt(0),
		IsActive:        active,
	}
}

func (v *StaticVerifier) Lookup(_ context.Context, operator string) (*OperatorInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	info, ok := v.operators[strings.ToLower(operator)]
	if !ok {
		return nil, ErrOperatorNotFound
	}
	copied := info
	return &copied, nil
}
