package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"grit-backend/internal/config"
)

// DestinationLedgerClient is the submission contract the relay consumes.
// Reference is the source signature hash carried in the mint call so restart
// logic can re-derive whether a mint already landed.
type DestinationLedgerClient interface {
	SubmitMint(ctx context.Context, to string, amount *big.Int, reference [32]byte) (string, error)
	Confirm(ctx context.Context, txHash string) (bool, error)
	FindMintByReference(ctx context.Context, reference [32]byte) (string, bool, error)
}

// mintSelector is the 4-byte selector of mint(address,uint256,bytes32).
var mintSelector = crypto.Keccak256([]byte("mint(address,uint256,bytes32)"))[:4]

// mintedTopic is the event topic of Minted(address,uint256,bytes32) with the
// reference as an indexed argument.
var mintedTopic = crypto.Keccak256Hash([]byte("Minted(address,uint256,bytes32)"))

// EVMClient submits mint transactions to the destination chain.
type EVMClient struct {
	client      *ethclient.Client
	cfg         config.DestChainConfig
	chainID     *big.Int
	contract    common.Address
	privateKey  *ecdsa.PrivateKey
	fromAddress common.Address
}

// NewEVMClient dials the destination RPC endpoint and loads the relay signer.
func NewEVMClient(cfg config.DestChainConfig) (*EVMClient, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial destination rpc %s: %w", cfg.RPCURL, err)
	}

	privateKey, err := crypto.HexToECDSA(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid destination private key: %w", err)
	}

	return &EVMClient{
		client:      client,
		cfg:         cfg,
		chainID:     big.NewInt(cfg.ChainID),
		contract:    common.HexToAddress(cfg.MintContract),
		privateKey:  privateKey,
		fromAddress: crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// SubmitMint signs and broadcasts mint(to, amount, reference) on the mint
// contract and returns the transaction hash.
func (c *EVMClient) SubmitMint(ctx context.Context, to string, amount *big.Int, reference [32]byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout())
	defer cancel()

	nonce, err := c.client.PendingNonceAt(ctx, c.fromAddress)
	if err != nil {
		return "", fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch gas price: %w", err)
	}

	data := packMintCall(common.HexToAddress(to), amount, reference)
	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), c.cfg.GasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign mint transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to broadcast mint transaction: %w", err)
	}

	hash := signedTx.Hash().Hex()
	logrus.WithFields(logrus.Fields{
		"tx_hash": hash,
		"to":      to,
		"amount":  amount.String(),
	}).Info("mint transaction submitted")
	return hash, nil
}

// Confirm polls for the transaction receipt and reports on-chain success.
func (c *EVMClient) Confirm(ctx context.Context, txHash string) (bool, error) {
	hash := common.HexToHash(txHash)
	polls := c.cfg.ConfirmPolls
	if polls <= 0 {
		polls = 10
	}
	delay := time.Duration(c.cfg.ConfirmDelay) * time.Second
	if delay <= 0 {
		delay = 3 * time.Second
	}

	for i := 0; i < polls; i++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout())
		receipt, err := c.client.TransactionReceipt(callCtx, hash)
		cancel()
		if err == nil {
			return receipt.Status == types.ReceiptStatusSuccessful, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
	}
	return false, fmt.Errorf("transaction %s not confirmed after %d polls", txHash, polls)
}

// FindMintByReference scans the recent Minted logs for the given reference.
// Used on restart to decide whether a submission landed before the crash.
func (c *EVMClient) FindMintByReference(ctx context.Context, reference [32]byte) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout())
	defer cancel()

	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to fetch head block: %w", err)
	}
	from := uint64(0)
	if c.cfg.LookbackBlocks > 0 && head > c.cfg.LookbackBlocks {
		from = head - c.cfg.LookbackBlocks
	}

	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		Addresses: []common.Address{c.contract},
		Topics: [][]common.Hash{
			{mintedTopic},
			nil,
			{common.BytesToHash(reference[:])},
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to filter mint logs: %w", err)
	}
	if len(logs) == 0 {
		return "", false, nil
	}
	return logs[0].TxHash.Hex(), true, nil
}

// packMintCall ABI-encodes mint(address,uint256,bytes32).
func packMintCall(to common.Address, amount *big.Int, reference [32]byte) []byte {
	data := make([]byte, 0, 4+3*32)
	data = append(data, mintSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	data = append(data, reference[:]...)
	return data
}
