package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/subswap/electrum"
	"github.com/lightninglabs/subswap/spv"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
)

var verifyTxCommand = cli.Command{
	Name:      "verifytx",
	Usage:     "verify that transactions are mined using merkle proofs",
	ArgsUsage: "txid:height [txid:height...]",
	Description: `
	Fetches the block headers and merkle branches of the given
	transactions from the configured electrum servers and verifies the
	inclusion of each transaction. A block header is only used once it
	has the requested number of confirmations, each of which carries a
	valid proof of work and links to its parent.`,
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  "confs",
			Usage: "the number of linked headers required from the block of a transaction on",
			Value: electrum.DefaultConfDepth,
		},
	},
	Action: verifyTx,
}

var (
	_ spv.ProofSource = (*electrum.Client)(nil)
	_ spv.HeaderStore = (*electrum.HeaderCache)(nil)
	_ spv.TxSource    = (*txSet)(nil)
)

// txSet is the set of transactions to verify.
type txSet struct {
	mu         sync.Mutex
	unverified map[chainhash.Hash]int32
	verified   map[chainhash.Hash]*spv.VerifiedTx
}

func (s *txSet) UnverifiedTxs() map[chainhash.Hash]int32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	txs := make(map[chainhash.Hash]int32, len(s.unverified))
	for txid, height := range s.unverified {
		txs[txid] = height
	}

	return txs
}

func (s *txSet) AddVerifiedTx(txid chainhash.Hash, info *spv.VerifiedTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.unverified, txid)
	s.verified[txid] = info
}

type verifyResult struct {
	TxID      string `json:"txid"`
	Height    int32  `json:"height"`
	Verified  bool   `json:"verified"`
	Pos       uint32 `json:"pos,omitempty"`
	BlockHash string `json:"block_hash,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Size      int    `json:"size,omitempty"`
}

func parseTxArg(arg string) (chainhash.Hash, int32, error) {
	txidStr, heightStr, ok := strings.Cut(arg, ":")
	if !ok {
		return chainhash.Hash{}, 0, fmt.Errorf("expected txid:height, "+
			"got %v", arg)
	}

	txid, err := chainhash.NewHashFromStr(txidStr)
	if err != nil {
		return chainhash.Hash{}, 0, err
	}

	height, err := strconv.ParseInt(heightStr, 10, 32)
	if err != nil {
		return chainhash.Hash{}, 0, err
	}
	if height <= 0 {
		return chainhash.Hash{}, 0, errors.New("height must be " +
			"positive")
	}

	return *txid, int32(height), nil
}

func verifyTx(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return cli.ShowCommandHelp(ctx, "verifytx")
	}

	txs := &txSet{
		unverified: make(map[chainhash.Hash]int32),
		verified:   make(map[chainhash.Hash]*spv.VerifiedTx),
	}
	var (
		txids   []chainhash.Hash
		heights []int32
	)
	for _, arg := range ctx.Args() {
		txid, height, err := parseTxArg(arg)
		if err != nil {
			return err
		}

		txs.unverified[txid] = height
		txids = append(txids, txid)
		heights = append(heights, height)
	}

	cfg, err := getConfig(ctx)
	if err != nil {
		return err
	}
	if len(cfg.Electrum.Servers) == 0 {
		return errors.New("no electrum server configured")
	}

	cmdCtx, cancel := commandContext()
	defer cancel()

	client := electrum.NewClient(&electrum.Config{
		Servers:  cfg.Electrum.Servers,
		UseTLS:   cfg.Electrum.TLS,
		TorProxy: cfg.Electrum.Proxy,
	})
	if err := client.Connect(cmdCtx); err != nil {
		return err
	}
	defer client.Close()

	params, err := cfg.chainParams()
	if err != nil {
		return err
	}
	headers := electrum.NewHeaderCache(
		client, params, int32(ctx.Int("confs")),
	)

	// Headers and raw transactions are independent of each other.
	sizes := make([]int, len(txids))
	g, gctx := errgroup.WithContext(cmdCtx)
	g.Go(func() error {
		return headers.Fetch(gctx, heights...)
	})
	for i, txid := range txids {
		i, txid := i, txid
		g.Go(func() error {
			tx, err := client.GetTransaction(gctx, txid)
			if err != nil {
				return fmt.Errorf("tx %v: %w", txid, err)
			}

			sizes[i] = tx.SerializeSize()

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	verifier := spv.NewVerifier(&spv.Config{
		Headers: headers,
		Proofs:  client,
		Txs:     txs,
	})
	if err := verifier.Sync(cmdCtx); err != nil {
		return err
	}

	results := make([]*verifyResult, 0, len(txids))
	for i, txid := range txids {
		result := &verifyResult{
			TxID:   txid.String(),
			Height: heights[i],
			Size:   sizes[i],
		}

		if info, ok := verifier.IsVerified(txid); ok {
			result.Verified = true
			result.Pos = info.Pos
			result.BlockHash = info.BlockHash.String()
			result.Timestamp = info.Timestamp.Unix()
		}

		results = append(results, result)
	}

	return printJSON(results)
}
