package electrum

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/subswap/spv"
	"github.com/lightningnetwork/lnd/tor"
)

const (
	// DefaultTimeout is the deadline of a single request.
	DefaultTimeout = 30 * time.Second

	// protocolVersion is the electrum protocol version we negotiate.
	protocolVersion = "1.4"

	// clientName is announced in server.version.
	clientName = "subswap"
)

var (
	// ErrNotConnected is returned when a request is made without a
	// connection.
	ErrNotConnected = errors.New("not connected to electrum server")

	// ErrUnexpectedResponse is returned when a result does not have the
	// shape of the method's documented result.
	ErrUnexpectedResponse = errors.New("unexpected electrum response")
)

// RPCError is an error returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error returns the error message.
func (e *RPCError) Error() string {
	return fmt.Sprintf("electrum error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Config holds the client settings.
type Config struct {
	// Servers are tried in order, in host:port format.
	Servers []string

	// UseTLS selects an SSL connection.
	UseTLS bool

	// Timeout is the deadline of a single request.
	Timeout time.Duration

	// TorProxy is the address of a SOCKS5 proxy to dial through. An
	// empty value dials directly.
	TorProxy string
}

// Client is a newline delimited JSON-RPC client for an electrum server.
// Requests are serialized over a single connection.
type Client struct {
	cfg *Config

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	requestID uint64
	server    string
}

// NewClient creates a client. Connect must be called before requests are
// made.
func NewClient(cfg *Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		cfg: cfg,
	}
}

// Connect connects to the first reachable server and negotiates the
// protocol version.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	var lastErr error
	for _, server := range c.cfg.Servers {
		conn, err := c.dial(ctx, server)
		if err != nil {
			log.Debugf("Unable to connect to %v: %v", server, err)
			lastErr = err

			continue
		}

		c.conn = conn
		c.reader = bufio.NewReader(conn)

		var version []string
		err = c.call(
			ctx, "server.version", &version, clientName,
			protocolVersion,
		)
		if err != nil {
			c.disconnect()
			lastErr = err

			continue
		}

		c.server = server
		log.Infof("Connected to electrum server %v (%v)", server,
			version)

		return nil
	}

	return fmt.Errorf("%w: %v", ErrNotConnected, lastErr)
}

func (c *Client) dial(ctx context.Context, server string) (net.Conn, error) {
	var (
		conn net.Conn
		err  error
	)
	if c.cfg.TorProxy != "" {
		log.Debugf("Proxying connection to %v over Tor SOCKS proxy %v",
			server, c.cfg.TorProxy)

		conn, err = tor.Dial(
			server, c.cfg.TorProxy, false, false, c.cfg.Timeout,
		)
	} else {
		dialer := &net.Dialer{Timeout: c.cfg.Timeout}
		conn, err = dialer.DialContext(ctx, "tcp", server)
	}
	if err != nil {
		return nil, err
	}

	if !c.cfg.UseTLS {
		return conn, nil
	}

	host, _, err := net.SplitHostPort(server)
	if err != nil {
		conn.Close()
		return nil, err
	}

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return tlsConn, nil
}

// Server returns the address of the connected server.
func (c *Client) Server() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.server
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	c.server = ""

	return err
}

// disconnect drops a broken connection. The mutex must be held.
func (c *Client) disconnect() {
	if c.conn != nil {
		_ = c.conn.Close()
	}

	c.conn = nil
	c.reader = nil
	c.server = ""
}

// Call performs a request and decodes its result into result.
func (c *Client) Call(ctx context.Context, method string, result interface{},
	params ...interface{}) error {

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.call(ctx, method, result, params...)
}

// call performs a request. The mutex must be held.
func (c *Client) call(ctx context.Context, method string,
	result interface{}, params ...interface{}) error {

	if c.conn == nil {
		return ErrNotConnected
	}

	if params == nil {
		params = []interface{}{}
	}

	c.requestID++
	req := &request{
		JSONRPC: "2.0",
		ID:      c.requestID,
		Method:  method,
		Params:  params,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok &&
		ctxDeadline.Before(deadline) {

		deadline = ctxDeadline
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.disconnect()
		return err
	}

	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		c.disconnect()
		return err
	}

	// Notifications of subscriptions carry no id and are skipped.
	var resp response
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			c.disconnect()
			return err
		}

		resp = response{}
		if err := json.Unmarshal(line, &resp); err != nil {
			c.disconnect()
			return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
		}

		if resp.ID == req.ID {
			break
		}

		log.Tracef("Skipping message with id %d", resp.ID)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if result == nil {
		return nil
	}

	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("%w: %v: %v", ErrUnexpectedResponse, method,
			err)
	}

	return nil
}

// merkleResult is the result of blockchain.transaction.get_merkle.
type merkleResult struct {
	Merkle      []string `json:"merkle"`
	BlockHeight int32    `json:"block_height"`
	Pos         uint32   `json:"pos"`
}

// GetMerkle returns the merkle branch of txid in the block at height.
func (c *Client) GetMerkle(ctx context.Context, txid chainhash.Hash,
	height int32) (*spv.MerkleResponse, error) {

	var result merkleResult
	err := c.Call(
		ctx, "blockchain.transaction.get_merkle", &result,
		txid.String(), height,
	)
	if err != nil {
		return nil, err
	}

	branch := make([]chainhash.Hash, 0, len(result.Merkle))
	for _, node := range result.Merkle {
		hash, err := chainhash.NewHashFromStr(node)
		if err != nil {
			return nil, fmt.Errorf("%w: merkle node %v: %v",
				ErrUnexpectedResponse, node, err)
		}

		branch = append(branch, *hash)
	}

	return &spv.MerkleResponse{
		TxHash:      txid,
		Merkle:      branch,
		BlockHeight: result.BlockHeight,
		Pos:         result.Pos,
	}, nil
}

// BlockHeader returns the header of the block at height.
func (c *Client) BlockHeader(ctx context.Context,
	height int32) (*wire.BlockHeader, error) {

	var headerHex string
	err := c.Call(ctx, "blockchain.block.header", &headerHex, height)
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(headerHex)
	if err != nil || len(raw) != wire.MaxBlockHeaderPayload {
		return nil, fmt.Errorf("%w: header at height %d",
			ErrUnexpectedResponse, height)
	}

	header := &wire.BlockHeader{}
	if err := header.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}

	return header, nil
}

// headerTip is the result of blockchain.headers.subscribe.
type headerTip struct {
	Height int32  `json:"height"`
	Hex    string `json:"hex"`
}

// BestHeight returns the height of the server's chain tip.
func (c *Client) BestHeight(ctx context.Context) (int32, error) {
	var tip headerTip
	err := c.Call(ctx, "blockchain.headers.subscribe", &tip)
	if err != nil {
		return 0, err
	}

	return tip.Height, nil
}

// GetTransaction returns the transaction with the given id.
func (c *Client) GetTransaction(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	var txHex string
	err := c.Call(ctx, "blockchain.transaction.get", &txHex, txid.String())
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("%w: tx %v: %v", ErrUnexpectedResponse,
			txid, err)
	}

	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}

	if tx.TxHash() != txid {
		return nil, fmt.Errorf("%w: server returned tx %v for %v",
			ErrUnexpectedResponse, tx.TxHash(), txid)
	}

	return tx, nil
}
