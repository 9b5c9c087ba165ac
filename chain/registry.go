package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// getOperator(address) -> (bondAmount, pendingEarnings, totalEarned, active)
const registryABI = `[{"inputs":[{"internalType":"address","name":"operator","type":"address"}],"name":"getOperator","outputs":[{"internalType":"uint256","name":"bondAmount","type":"uint256"},{"internalType":"uint256","name":"pendingEarnings","type":"uint256"},{"internalType":"uint256","name":"totalEarned","type":"uint256"},{"internalType":"bool","name":"active","type":"bool"}],"stateMutability":"view","type":"function"}]`

// RegistryVerifier reads operator records from the registry contract.
type RegistryVerifier struct {
	client   *ethclient.Client
	contract common.Address
	abi      abi.ABI
	logger   *zap.Logger
}

func NewRegistryVerifier(config *Config, logger *zap.Logger) (*RegistryVerifier, error) {
	client, err := ethclient.Dial(config.RPCUrl)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial chain RPC")
	}
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse registry abi")
	}
	return &RegistryVerifier{
		client:   client,
		contract: common.HexToAddress(config.ContractAddress),
		abi:      parsed,
		logger:   logger,
	}, nil
}

func (v *RegistryVerifier) Lookup(ctx context.Context, operator string) (*OperatorInfo, error) {
	if !common.IsHexAddress(operator) {
		return nil, ErrOperatorNotFound
	}
	data, err := v.abi.Pack("getOperator", common.HexToAddress(operator))
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack registry call")
	}
	raw, err := v.client.CallContract(ctx, ethereum.CallMsg{To: &v.contract, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "registry call failed")
	}
	values, err := v.abi.Unpack("getOperator", raw)
	if err != nil || len(values) != 4 {
		return nil, errors.Wrap(err, "failed to unpack registry result")
	}
	info := &OperatorInfo{
		BondAmount:      values[0].(*big.Int),
		PendingEarnings: values[1].(*big.Int),
		TotalEarned:     values[2].(*big.Int),
		IsActive:        values[3].(bool),
	}
	// A zero record means the registry has never seen this wallet.
	if !info.IsActive && info.BondAmount.Sign() == 0 && info.TotalEarned.Sign() == 0 {
		return nil, ErrOperatorNotFound
	}
	return info, nil
}
