// Package ledger provides the external, best-effort trade ledger the
// matching engine calls out to after persisting a trade (spec §11
// domain stack). It is never on the critical path: a failing or slow
// ledger must not block or fail a match.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"ordercore/internal/models"
)

// ErrTransactionFailed is returned when a recordTrade transaction was
// mined but reverted.
var ErrTransactionFailed = errors.New("ledger: recordTrade transaction failed")

// recordTradeABIJSON declares just the one contract method this client
// calls: recordTrade(tradeId, symbol, priceCents, quantity, buyOrderId,
// sellOrderId). Mirrors the contract the original Python TradeLedger
// client targets (tradeLedger.json), trimmed to the single function.
const recordTradeABIJSON = `[
  {"constant":false,"inputs":[
    {"name":"tradeId","type":"uint256"},
    {"name":"symbol","type":"string"},
    {"name":"priceCents","type":"uint256"},
    {"name":"quantity","type":"uint256"},
    {"name":"buyOrderId","type":"uint256"},
    {"name":"sellOrderId","type":"uint256"}
  ],"name":"recordTrade","outputs":[],"type":"function"}
]`

var parsedABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(recordTradeABIJSON))
	if err != nil {
		panic("ledger: failed to parse recordTrade ABI: " + err.Error())
	}
	parsedABI = parsed
}

// priceToCents converts a decimal price to an integer number of cents,
// matching the original _price_to_cents helper: the contract only
// understands whole-cent integers, so fractional-cent prices are not
// representable on chain (spec §4.4).
func priceToCents(price decimal.Decimal) *big.Int {
	cents := price.Mul(decimal.NewFromInt(100)).Round(0)
	return cents.BigInt()
}

// ChainLedgerAdapter records trades on an EVM-compatible chain by
// calling recordTrade on a deployed TradeLedger contract. Construction
// mirrors TradeLedgerClient.__init__: dial the RPC, load the signing
// key, and target one fixed contract address.
type ChainLedgerAdapter struct {
	client          *ethclient.Client
	contractAddress common.Address
	privateKey      *ecdsa.PrivateKey
	fromAddress     common.Address
	gasLimit        uint64
	logger          *zap.Logger
}

// NewChainLedgerAdapter dials rpcURL and prepares a client that signs
// with senderPrivateKeyHex against contractAddressHex.
func NewChainLedgerAdapter(ctx context.Context, rpcURL, contractAddressHex, senderPrivateKeyHex string, logger *zap.Logger) (*ChainLedgerAdapter, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(senderPrivateKeyHex, "0x"))
	if err != nil {
		client.Close()
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainLedgerAdapter{
		client:          client,
		contractAddress: common.HexToAddress(contractAddressHex),
		privateKey:      key,
		fromAddress:     crypto.PubkeyToAddress(key.PublicKey),
		gasLimit:        200_000,
		logger:          logger,
	}, nil
}

// RecordTrade builds, signs, and sends a recordTrade transaction,
// waiting for it to be mined, and returns the transaction hash as the
// Trade's ledger reference. Idempotency mirrors the Python client: a
// trade that already carries a LedgerRef is never re-sent, and the
// contract itself rejects a duplicate tradeId.
func (a *ChainLedgerAdapter) RecordTrade(ctx context.Context, trade models.Trade) (string, error) {
	if trade.LedgerRef != nil && *trade.LedgerRef != "" {
		return *trade.LedgerRef, nil
	}

	nonce, err := a.client.PendingNonceAt(ctx, a.fromAddress)
	if err != nil {
		return "", err
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", err
	}

	data, err := parsedABI.Pack("recordTrade",
		big.NewInt(trade.ID),
		trade.Symbol,
		priceToCents(trade.Price),
		trade.Quantity.BigInt(),
		big.NewInt(trade.BuyOrderID),
		big.NewInt(trade.SellOrderID),
	)
	if err != nil {
		return "", err
	}

	tx := types.NewTransaction(nonce, a.contractAddress, big.NewInt(0), a.gasLimit, gasPrice, data)
	chainID, err := a.client.NetworkID(ctx)
	if err != nil {
		return "", err
	}
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), a.privateKey)
	if err != nil {
		return "", err
	}

	if err := a.client.SendTransaction(ctx, signedTx); err != nil {
		return "", err
	}

	receipt, err := waitMined(ctx, a.client, signedTx.Hash())
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", ErrTransactionFailed
	}
	return signedTx.Hash().Hex(), nil
}

// waitMined polls for a transaction receipt, mirroring
// w3.eth.wait_for_transaction_receipt from the original client without
// pulling in the full go-ethereum accounts/abi/bind package.
func waitMined(ctx context.Context, client *ethclient.Client, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CircuitBreakingLedger wraps a LedgerPort with a gobreaker circuit
// breaker so a sustained chain outage trips open instead of stacking up
// blocked calls behind every subsequent trade (grounded on the
// resilience package's CircuitBreakerFactory: trip at >=50% failures
// over >=10 requests).
type CircuitBreakingLedger struct {
	inner   RecordTrader
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// RecordTrader is the minimal surface CircuitBreakingLedger wraps.
type RecordTrader interface {
	RecordTrade(ctx context.Context, trade models.Trade) (string, error)
}

// NewCircuitBreakingLedger wraps inner with a breaker named for
// logging/metrics purposes.
func NewCircuitBreakingLedger(name string, inner RecordTrader, logger *zap.Logger) *CircuitBreakingLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ledger circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &CircuitBreakingLedger{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// RecordTrade runs inner.RecordTrade through the breaker. A tripped
// breaker fails fast with gobreaker.ErrOpenState, which the engine
// treats like any other ledger error: logged, swallowed, LedgerRef left
// nil.
func (c *CircuitBreakingLedger) RecordTrade(ctx context.Context, trade models.Trade) (string, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.inner.RecordTrade(ctx, trade)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// NoopLedger discards every trade. Used when no chain RPC is
// configured. It returns an empty reference, which match_all treats the same as no
// reference at all: Trade.LedgerRef stays nil rather than pointing at
// an empty string.
type NoopLedger struct{}

func (NoopLedger) RecordTrade(ctx context.Context, trade models.Trade) (string, error) {
	return "", nil
}

// ObservingLedger wraps a RecordTrader and invokes onFailure for every
// failed RecordTrade call, identified by symbol. It takes a plain
// callback rather than a metrics type so this package stays free of a
// dependency on the metrics collector's concrete type.
type ObservingLedger struct {
	inner     RecordTrader
	onFailure func(symbol string)
}

// NewObservingLedger wraps inner, calling onFailure (if non-nil) after
// every RecordTrade call that returns an error.
func NewObservingLedger(inner RecordTrader, onFailure func(symbol string)) *ObservingLedger {
	return &ObservingLedger{inner: inner, onFailure: onFailure}
}

func (o *ObservingLedger) RecordTrade(ctx context.Context, trade models.Trade) (string, error) {
	ref, err := o.inner.RecordTrade(ctx, trade)
	if err != nil && o.onFailure != nil {
		o.onFailure(trade.Symbol)
	}
	return ref, err
}
