package registry

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Aidin1998/assetex/internal/config"
)

// Minimal ERC-721 surface the adapter needs
const erc721ABI = `[
  {"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"from","type":"address"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"transferFrom","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const transferGasLimit = 150000

// EVMRegistry reads and mutates ownership on an ERC-721 contract. Transfers
// are sent by the marketplace operator key, which holders approve on-chain.
// In production, never store private keys in memory! Use HSM/KMS.
type EVMRegistry struct {
	client         *ethclient.Client
	abi            abi.ABI
	key            *ecdsa.PrivateKey
	operator       common.Address
	chainID        *big.Int
	receiptTimeout time.Duration

	mu       sync.RWMutex
	contract common.Address
}

// NewEVMRegistry connects to the chain and binds the configured contract
func NewEVMRegistry(cfg config.EVMConfig) (*EVMRegistry, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse abi: %w", err)
	}

	key, err := crypto.HexToECDSA(cfg.OperatorKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse operator key: %w", err)
	}

	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address: %s", cfg.ContractAddress)
	}

	timeout := cfg.ReceiptTimeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}

	return &EVMRegistry{
		client:         client,
		abi:            parsed,
		key:            key,
		operator:       crypto.PubkeyToAddress(key.PublicKey),
		chainID:        big.NewInt(cfg.ChainID),
		receiptTimeout: timeout,
		contract:       common.HexToAddress(cfg.ContractAddress),
	}, nil
}

// Rebind points the adapter at a different contract address
func (e *EVMRegistry) Rebind(address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid contract address: %s", address)
	}
	e.mu.Lock()
	e.contract = common.HexToAddress(address)
	e.mu.Unlock()
	return nil
}

func (e *EVMRegistry) contractAddress() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.contract
}

// OwnerOf returns the principal that currently owns the item
func (e *EVMRegistry) OwnerOf(ctx context.Context, itemID uint64) (string, error) {
	data, err := e.abi.Pack("ownerOf", new(big.Int).SetUint64(itemID))
	if err != nil {
		return "", fmt.Errorf("failed to pack ownerOf: %w", err)
	}

	contract := e.contractAddress()
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		// ownerOf reverts for tokens that were never minted
		if strings.Contains(err.Error(), "revert") {
			return "", fmt.Errorf("%w: item %d", ErrUnknownItem, itemID)
		}
		return "", fmt.Errorf("failed to call ownerOf: %w", err)
	}

	results, err := e.abi.Unpack("ownerOf", out)
	if err != nil || len(results) != 1 {
		return "", fmt.Errorf("failed to decode ownerOf result: %w", err)
	}
	owner, ok := results[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("unexpected ownerOf result type %T", results[0])
	}

	return owner.Hex(), nil
}

// Transfer moves ownership of the item from one principal to another. The
// call blocks until the transaction is mined or the receipt timeout passes.
func (e *EVMRegistry) Transfer(ctx context.Context, itemID uint64, from, to string) error {
	owner, err := e.OwnerOf(ctx, itemID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(owner, from) {
		return fmt.Errorf("%w: item %d is owned by %s", ErrNotOwner, itemID, owner)
	}

	data, err := e.abi.Pack("transferFrom",
		common.HexToAddress(from), common.HexToAddress(to), new(big.Int).SetUint64(itemID))
	if err != nil {
		return fmt.Errorf("failed to pack transferFrom: %w", err)
	}

	nonce, err := e.client.PendingNonceAt(ctx, e.operator)
	if err != nil {
		return fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, e.contractAddress(), big.NewInt(0), transferGasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(e.chainID), e.key)
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := e.client.SendTransaction(ctx, signedTx); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferRejected, err)
	}

	receipt, err := e.waitForReceipt(ctx, signedTx.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: transaction %s reverted", ErrTransferRejected, signedTx.Hash().Hex())
	}

	return nil
}

func (e *EVMRegistry) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: transaction %s not mined: %v", ErrTransferRejected, hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
