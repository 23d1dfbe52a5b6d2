package subswap

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/subswap/swap"
	"github.com/lightninglabs/subswap/swapserver"
	"github.com/lightninglabs/subswap/test"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/stretchr/testify/require"
)

var (
	testHeight = int32(800)

	testForwardCltvDelta = int32(100)
	testReverseCltvDelta = int32(120)

	testOnchainAmount = btcutil.Amount(100_000)
	testPrepayAmount  = btcutil.Amount(1_000)

	testPairsJSON = []byte(`{"pairs": {"BTC/BTC": {
		"rate": 1,
		"limits": {"minimal": 20000, "maximal": 5000000},
		"fees": {
			"percentage": 0.5,
			"minerFees": {
				"baseAsset": {
					"normal": 340,
					"reverse": {"claim": 276, "lockup": 306}
				}
			}
		}
	}}}`)
)

// serverMock simulates the swap server. Offers are built honestly and then
// passed through the modify hooks so that tests can tamper with them.
type serverMock struct {
	t      *testing.T
	params *chaincfg.Params

	mu sync.Mutex

	height        int32
	onchainAmount btcutil.Amount
	prepayAmount  btcutil.Amount

	modifyForward func(resp *swapserver.CreateSwapResponse)
	modifyReverse func(resp *swapserver.CreateReverseSwapResponse)

	pairs    []byte
	pairsErr error

	forwardRequests  []*swapserver.CreateSwapRequest
	reverseRequests  []*swapserver.CreateReverseSwapRequest
	reverseResponses []*swapserver.CreateReverseSwapResponse
}

var _ SwapServer = (*serverMock)(nil)

func newServerMock(t *testing.T, params *chaincfg.Params) *serverMock {
	return &serverMock{
		t:             t,
		params:        params,
		height:        testHeight,
		onchainAmount: testOnchainAmount,
		pairs:         testPairsJSON,
	}
}

// serverKey returns the key the server claims or refunds with.
func serverKey() [33]byte {
	_, pubKey := test.CreateKeyBytes(1)
	return pubKey
}

func decodeKey(t *testing.T, keyHex string) [33]byte {
	keyBytes, err := hex.DecodeString(keyHex)
	require.NoError(t, err)
	require.Len(t, keyBytes, 33)

	var key [33]byte
	copy(key[:], keyBytes)

	return key
}

func (s *serverMock) CreateSwap(_ context.Context,
	req *swapserver.CreateSwapRequest) (*swapserver.CreateSwapResponse,
	error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	s.forwardRequests = append(s.forwardRequests, req)

	invoice, err := zpay32.Decode(req.Invoice, s.params)
	if err != nil {
		return nil, err
	}
	hash := lntypes.Hash(*invoice.PaymentHash)

	locktime := s.height + testForwardCltvDelta
	script, err := swap.NewForwardScript(
		hash, serverKey(), decodeKey(s.t, req.RefundPublicKey),
		locktime,
	)
	if err != nil {
		return nil, err
	}

	address, err := swap.LockupAddress(script, s.params)
	if err != nil {
		return nil, err
	}

	resp := &swapserver.CreateSwapResponse{
		ID:                 "forward-" + hash.String()[:8],
		ExpectedAmount:     int64(s.onchainAmount),
		TimeoutBlockHeight: locktime,
		Address:            address,
		RedeemScript:       hex.EncodeToString(script),
	}
	if s.modifyForward != nil {
		s.modifyForward(resp)
	}

	return resp, nil
}

func (s *serverMock) CreateReverseSwap(_ context.Context,
	req *swapserver.CreateReverseSwapRequest) (
	*swapserver.CreateReverseSwapResponse, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reverseRequests = append(s.reverseRequests, req)

	hash, err := lntypes.MakeHashFromStr(req.PreimageHash)
	if err != nil {
		return nil, err
	}

	locktime := s.height + testReverseCltvDelta
	script, err := swap.NewReverseScript(
		hash, decodeKey(s.t, req.ClaimPublicKey), serverKey(),
		locktime,
	)
	if err != nil {
		return nil, err
	}

	address, err := swap.LockupAddress(script, s.params)
	if err != nil {
		return nil, err
	}

	invoiceAmt := btcutil.Amount(req.InvoiceAmount) - s.prepayAmount
	resp := &swapserver.CreateReverseSwapResponse{
		ID: "reverse-" + hash.String()[:8],
		Invoice: test.GetInvoice(
			s.t, s.params, hash, invoiceAmt, "swap",
		),
		LockupAddress:      address,
		RedeemScript:       hex.EncodeToString(script),
		TimeoutBlockHeight: locktime,
		OnchainAmount:      int64(s.onchainAmount),
	}

	if s.prepayAmount > 0 {
		resp.MinerFeeInvoice = test.GetInvoice(
			s.t, s.params, prepayHash(hash), s.prepayAmount,
			"miner fee",
		)
	}

	if s.modifyReverse != nil {
		s.modifyReverse(resp)
	}
	s.reverseResponses = append(s.reverseResponses, resp)

	return resp, nil
}

// prepayHash derives the miner fee invoice hash the mock uses for a swap.
func prepayHash(hash lntypes.Hash) lntypes.Hash {
	preimage := lntypes.Preimage(hash)
	return preimage.Hash()
}

func (s *serverMock) GetPairs(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pairsErr != nil {
		return nil, s.pairsErr
	}

	return s.pairs, nil
}

func (s *serverMock) lastReverse() *swapserver.CreateReverseSwapResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.reverseResponses) == 0 {
		return nil
	}

	return s.reverseResponses[len(s.reverseResponses)-1]
}

func (s *serverMock) setPairsErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pairsErr = err
}

var errServerDown = errors.New("server down")
