// Package chain talks to EVM RPC endpoints: aggregator reads and feed
// registry lookups, with a per-call deadline so a dead endpoint can never
// stall a caller.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain/model"
	"pricepulse/internal/infrastructure/config"
)

// Chainlink's synthetic USD quote address, identical on every chain.
const usdQuote = "0x0000000000000000000000000000000000000348"

const aggregatorABIJSON = `[
  {"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"latestRoundData","outputs":[
    {"name":"roundId","type":"uint80"},
    {"name":"answer","type":"int256"},
    {"name":"startedAt","type":"uint256"},
    {"name":"updatedAt","type":"uint256"},
    {"name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

const registryABIJSON = `[
  {"inputs":[{"name":"base","type":"address"},{"name":"quote","type":"address"}],
   "name":"getFeed","outputs":[{"name":"aggregator","type":"address"}],
   "stateMutability":"view","type":"function"}
]`

var (
	aggregatorABI = mustParseABI(aggregatorABIJSON)
	registryABI   = mustParseABI(registryABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Client implements port.ChainReader over one ethclient per configured chain.
type Client struct {
	order      []string
	rpcs       map[string]*ethclient.Client
	registries map[string]common.Address
	timeout    time.Duration
}

func New(chains []config.Chain, callTimeout time.Duration) (*Client, error) {
	c := &Client{
		rpcs:       make(map[string]*ethclient.Client),
		registries: make(map[string]common.Address),
		timeout:    callTimeout,
	}
	for _, ch := range chains {
		ec, err := ethclient.Dial(ch.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", ch.Name, err)
		}
		c.rpcs[ch.Name] = ec
		c.order = append(c.order, ch.Name)
		if reg := strings.TrimSpace(ch.Registry); reg != "" {
			addr := common.HexToAddress(reg)
			if addr != (common.Address{}) {
				c.registries[ch.Name] = addr
			}
		}
		log.Info().Str("chain", ch.Name).Bool("registry", c.hasRegistry(ch.Name)).Msg("chain client ready")
	}
	return c, nil
}

func (c *Client) hasRegistry(chain string) bool {
	_, ok := c.registries[chain]
	return ok
}

func (c *Client) Chains() []string { return c.order }

func (c *Client) Close() {
	for _, ec := range c.rpcs {
		ec.Close()
	}
}

func (c *Client) call(ctx context.Context, chain string, to common.Address, data []byte) ([]byte, error) {
	ec, ok := c.rpcs[chain]
	if !ok {
		return nil, fmt.Errorf("unknown chain %q", chain)
	}
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := ec.CallContract(cctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s", model.ErrUpstreamTimeout, chain, to.Hex())
		}
		return nil, err
	}
	return out, nil
}

// ReadAggregator fetches latestRoundData and decimals from an aggregator.
func (c *Client) ReadAggregator(ctx context.Context, chain, addr string) (*port.RoundData, error) {
	to := common.HexToAddress(addr)

	data, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, chain, to, data)
	if err != nil {
		return nil, err
	}
	vals, err := aggregatorABI.Unpack("latestRoundData", out)
	if err != nil {
		return nil, fmt.Errorf("decode latestRoundData: %w", err)
	}
	if len(vals) != 5 {
		return nil, fmt.Errorf("latestRoundData returned %d values", len(vals))
	}
	answer, ok := vals[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected answer type %T", vals[1])
	}
	updatedAt, ok := vals[3].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected updatedAt type %T", vals[3])
	}

	data, err = aggregatorABI.Pack("decimals")
	if err != nil {
		return nil, err
	}
	out, err = c.call(ctx, chain, to, data)
	if err != nil {
		return nil, err
	}
	decVals, err := aggregatorABI.Unpack("decimals", out)
	if err != nil {
		return nil, fmt.Errorf("decode decimals: %w", err)
	}
	decimals, ok := decVals[0].(uint8)
	if !ok {
		return nil, fmt.Errorf("unexpected decimals type %T", decVals[0])
	}

	return &port.RoundData{
		Answer:    answer,
		UpdatedAt: time.Unix(updatedAt.Int64(), 0),
		Decimals:  decimals,
	}, nil
}

// LookupFeed asks the chain's feed registry for the USD aggregator of the
// base token. Returns "" when the chain has no registry or the registry
// answers with the zero address.
func (c *Client) LookupFeed(ctx context.Context, chain, baseToken string) (string, error) {
	reg, ok := c.registries[chain]
	if !ok {
		return "", nil
	}
	data, err := registryABI.Pack("getFeed", common.HexToAddress(baseToken), common.HexToAddress(usdQuote))
	if err != nil {
		return "", err
	}
	out, err := c.call(ctx, chain, reg, data)
	if err != nil {
		return "", err
	}
	vals, err := registryABI.Unpack("getFeed", out)
	if err != nil {
		return "", fmt.Errorf("decode getFeed: %w", err)
	}
	agg, ok := vals[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("unexpected getFeed type %T", vals[0])
	}
	if agg == (common.Address{}) {
		return "", nil
	}
	return agg.Hex(), nil
}

var _ port.ChainReader = (*Client)(nil)
