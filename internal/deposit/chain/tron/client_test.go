package tron

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeWallet struct {
	api.UnimplementedWalletServer

	mu          sync.Mutex
	tip         int64
	unavailable int
	apiKeys     []string
	blocks      map[int64]*api.BlockExtention
}

func (f *fakeWallet) recordKey(ctx context.Context) {
	md, _ := metadata.FromIncomingContext(ctx)
	f.apiKeys = append(f.apiKeys, md.Get("tron-pro-api-key")...)
}

func (f *fakeWallet) GetNowBlock2(ctx context.Context, _ *api.EmptyMessage) (*api.BlockExtention, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordKey(ctx)
	if f.unavailable > 0 {
		f.unavailable--
		return nil, status.Error(codes.Unavailable, "node syncing")
	}
	return &api.BlockExtention{BlockHeader: &core.BlockHeader{RawData: &core.BlockHeaderRaw{Number: f.tip}}}, nil
}

func (f *fakeWallet) GetBlockByNum2(ctx context.Context, in *api.NumberMessage) (*api.BlockExtention, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordKey(ctx)
	if b, ok := f.blocks[in.Num]; ok {
		return b, nil
	}
	// 节点没有这个块时返回空结构
	return &api.BlockExtention{}, nil
}

func startFakeNode(t *testing.T, w *fakeWallet) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	api.RegisterWalletServer(srv, w)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := Dial(Config{Endpoint: "passthrough:///bufnet", APIKey: "secret-key", RPS: 1000},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_GetBlockHeight(t *testing.T) {
	w := &fakeWallet{tip: 1234, unavailable: 2}
	c := startFakeNode(t, w)

	h, err := c.GetBlockHeight(context.Background())
	require.NoError(t, err, "Unavailable 会被重试")
	assert.Equal(t, int64(1234), h)

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.apiKeys, 3)
	for _, k := range w.apiKeys {
		assert.Equal(t, "secret-key", k)
	}
}

func TestClient_FetchBlock(t *testing.T) {
	blockID := make([]byte, 32)
	blockID[31] = 7
	w := &fakeWallet{tip: 10, blocks: map[int64]*api.BlockExtention{
		7: {Blockid: blockID, BlockHeader: &core.BlockHeader{RawData: &core.BlockHeaderRaw{Number: 7}}},
	}}
	c := startFakeNode(t, w)
	ctx := context.Background()

	b, err := c.FetchBlock(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), b.Height)
	assert.Empty(t, b.Transactions)

	_, err = c.FetchBlock(ctx, 8)
	assert.Error(t, err, "节点返回空块")
}

func TestDial_RequiresEndpoint(t *testing.T) {
	_, err := Dial(Config{})
	assert.Error(t, err)
}
