package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devblac/chain-sentinel/internal/logging"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var testChainID = big.NewInt(56)

type fakeNode struct {
	latest   uint64
	blocks   map[uint64]*types.Block
	receipts map[common.Hash]*types.Receipt
	txs      map[common.Hash]*types.Transaction
	gasPrice *big.Int
}

func (f *fakeNode) ChainID(context.Context) (*big.Int, error) { return testChainID, nil }

func (f *fakeNode) BlockNumber(context.Context) (uint64, error) { return f.latest, nil }

func (f *fakeNode) BlockByNumber(_ context.Context, n *big.Int) (*types.Block, error) {
	if b, ok := f.blocks[n.Uint64()]; ok {
		return b, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeNode) BlockByHash(_ context.Context, h common.Hash) (*types.Block, error) {
	for _, b := range f.blocks {
		if b.Hash() == h {
			return b, nil
		}
	}
	return nil, ethereum.NotFound
}

func (f *fakeNode) TransactionByHash(_ context.Context, h common.Hash) (*types.Transaction, bool, error) {
	if tx, ok := f.txs[h]; ok {
		return tx, true, nil
	}
	return nil, false, ethereum.NotFound
}

func (f *fakeNode) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	if r, ok := f.receipts[h]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeNode) SuggestGasPrice(context.Context) (*big.Int, error) { return f.gasPrice, nil }

// fakeCaller answers JSON-RPC calls from canned raw JSON responses.
type fakeCaller struct {
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func (f *fakeCaller) CallContext(_ context.Context, result interface{}, method string, _ ...interface{}) error {
	f.calls = append(f.calls, method)
	if err := f.errs[method]; err != nil {
		return err
	}
	raw, ok := f.responses[method]
	if !ok {
		return fmt.Errorf("unexpected method %s", method)
	}
	return json.Unmarshal([]byte(raw), result)
}

func signedTx(t *testing.T, nonce uint64) (*types.Transaction, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(1),
		Gas:      21000,
		GasPrice: big.NewInt(5_000_000_000),
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(testChainID), key)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	return signed, crypto.PubkeyToAddress(key.PublicKey)
}

func testBlock(n uint64, txs ...*types.Transaction) *types.Block {
	header := &types.Header{Number: new(big.Int).SetUint64(n), Time: 1_700_000_000 + n}
	return types.NewBlockWithHeader(header).WithBody(txs, nil)
}

func TestDisconnectedClientFailsFast(t *testing.T) {
	c := NewClient(logging.Discard(), time.Second)
	ctx := context.Background()

	if c.Connected() || c.Streaming() {
		t.Fatalf("fresh client should be disconnected")
	}
	if c.Connect(ctx, "", "") {
		t.Fatalf("empty rpc url should not connect")
	}
	if _, err := c.LatestBlockNumber(ctx); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if _, err := c.GetBlock(ctx, 1, false); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if _, err := c.WatchNewBlocks(ctx); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if c.ChainID() != nil {
		t.Fatalf("chain id should be nil")
	}
}

func TestConnectUnreachableStaysDegraded(t *testing.T) {
	c := NewClient(logging.Discard(), 500*time.Millisecond)
	if c.Connect(context.Background(), "http://127.0.0.1:1", "") {
		t.Fatalf("unreachable endpoint should not connect")
	}
	if c.Connected() {
		t.Fatalf("client should stay disconnected")
	}
}

func TestGetBlockSummary(t *testing.T) {
	raw := &fakeCaller{responses: map[string]string{
		"eth_getBlockByNumber": `{"number":"0x64","hash":"0x0000000000000000000000000000000000000000000000000000000000000abc","timestamp":"0x3e8","transactions":["0x0000000000000000000000000000000000000000000000000000000000000001","0x0000000000000000000000000000000000000000000000000000000000000002"]}`,
	}}
	c := Attach(logging.Discard(), &fakeNode{}, raw, nil, testChainID)

	b, err := c.GetBlock(context.Background(), 100, false)
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	if b.Number != 100 || b.TxCount != 2 || b.Transactions != nil {
		t.Fatalf("unexpected block %+v", b)
	}
	if !b.Time.Equal(time.Unix(1000, 0)) {
		t.Fatalf("unexpected time %v", b.Time)
	}
}

func TestGetBlockSummaryMissing(t *testing.T) {
	raw := &fakeCaller{responses: map[string]string{"eth_getBlockByNumber": `null`}}
	c := Attach(logging.Discard(), &fakeNode{}, raw, nil, testChainID)

	if _, err := c.GetBlock(context.Background(), 7, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetBlockWithTransactions(t *testing.T) {
	tx1, _ := signedTx(t, 0)
	tx2, _ := signedTx(t, 1)
	node := &fakeNode{blocks: map[uint64]*types.Block{5: testBlock(5, tx1, tx2)}}
	c := Attach(logging.Discard(), node, &fakeCaller{}, nil, testChainID)

	b, err := c.GetBlock(context.Background(), 5, true)
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	if b.TxCount != 2 || len(b.Transactions) != 2 || b.Transactions[0].Hash() != tx1.Hash() {
		t.Fatalf("unexpected block %+v", b)
	}

	byHash, err := c.GetBlockByHash(context.Background(), b.Hash)
	if err != nil {
		t.Fatalf("get block by hash: %v", err)
	}
	if byHash.Number != 5 {
		t.Fatalf("unexpected number %d", byHash.Number)
	}

	if _, err := c.GetBlock(context.Background(), 6, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReceiptAndPendingNotFound(t *testing.T) {
	c := Attach(logging.Discard(), &fakeNode{}, &fakeCaller{}, nil, testChainID)
	h := common.HexToHash("0x01")

	if _, err := c.TransactionReceipt(context.Background(), h); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.PendingTransaction(context.Background(), h); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSenderRecoversSigner(t *testing.T) {
	tx, from := signedTx(t, 3)
	c := Attach(logging.Discard(), &fakeNode{}, &fakeCaller{}, nil, testChainID)

	got, err := c.Sender(tx)
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	if got != from {
		t.Fatalf("expected %s, got %s", from.Hex(), got.Hex())
	}
}

func TestGasPriceGwei(t *testing.T) {
	node := &fakeNode{gasPrice: big.NewInt(5_000_000_000)}
	c := Attach(logging.Discard(), node, &fakeCaller{}, nil, testChainID)

	gwei, err := c.GasPriceGwei(context.Background())
	if err != nil {
		t.Fatalf("gas price: %v", err)
	}
	if gwei.String() != "5" {
		t.Fatalf("expected 5 gwei, got %s", gwei)
	}
}

func TestWatchRequiresStream(t *testing.T) {
	c := Attach(logging.Discard(), &fakeNode{}, &fakeCaller{}, nil, testChainID)
	if c.Streaming() {
		t.Fatalf("no stream attached")
	}
	if _, err := c.WatchPendingTransactions(context.Background()); !errors.Is(err, ErrNoStream) {
		t.Fatalf("expected ErrNoStream, got %v", err)
	}
}

func TestWatchLifecycle(t *testing.T) {
	stream := &fakeCaller{responses: map[string]string{
		"eth_newBlockFilter":   `"0x1f"`,
		"eth_getFilterChanges": `["0x0000000000000000000000000000000000000000000000000000000000000abc"]`,
		"eth_uninstallFilter":  `true`,
	}}
	c := Attach(logging.Discard(), &fakeNode{}, &fakeCaller{}, stream, testChainID)

	w, err := c.WatchNewBlocks(context.Background())
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if w.ID != "0x1f" || w.Kind != WatchBlocks {
		t.Fatalf("unexpected watch %+v", w)
	}
	hashes, err := w.Poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(hashes) != 1 || hashes[0] != common.HexToHash("0xabc") {
		t.Fatalf("unexpected hashes %v", hashes)
	}
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	want := []string{"eth_newBlockFilter", "eth_getFilterChanges", "eth_uninstallFilter"}
	if len(stream.calls) != len(want) {
		t.Fatalf("unexpected calls %v", stream.calls)
	}
	for i := range want {
		if stream.calls[i] != want[i] {
			t.Fatalf("call %d: expected %s, got %s", i, want[i], stream.calls[i])
		}
	}
}

func TestPollErrorIsWrapped(t *testing.T) {
	boom := errors.New("filter not found")
	stream := &fakeCaller{
		responses: map[string]string{"eth_newPendingTransactionFilter": `"0x2"`},
		errs:      map[string]error{"eth_getFilterChanges": boom},
	}
	c := Attach(logging.Discard(), &fakeNode{}, &fakeCaller{}, stream, testChainID)

	w, err := c.WatchPendingTransactions(context.Background())
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if _, err := w.Poll(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestMethodName(t *testing.T) {
	dir := t.TempDir()
	abiJSON := `[{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`
	if err := os.WriteFile(filepath.Join(dir, "erc20.json"), []byte(abiJSON), 0o600); err != nil {
		t.Fatalf("write abi: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	abis, err := LoadABIs([]string{dir, ""})
	if err != nil {
		t.Fatalf("load abis: %v", err)
	}
	if abis.Files() != 1 || abis.Len() != 1 {
		t.Fatalf("expected one abi with one method, got %d/%d", abis.Files(), abis.Len())
	}

	selector := crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	name, ok := abis.MethodName(append(selector, make([]byte, 64)...))
	if !ok || name != "transfer" {
		t.Fatalf("expected transfer, got %q %v", name, ok)
	}
	if _, ok := abis.MethodName([]byte{0x01, 0x02}); ok {
		t.Fatalf("short input should not resolve")
	}
	if _, ok := abis.MethodName([]byte{0xde, 0xad, 0xbe, 0xef}); ok {
		t.Fatalf("unknown selector should not resolve")
	}
	var none *MethodIndex
	if _, ok := none.MethodName(selector); ok {
		t.Fatalf("nil index should not resolve")
	}
}
