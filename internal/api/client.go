package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/wpp-archive/internal/wa"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls the archive service of a running daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath. The connection is
// established lazily on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func call[Resp any](ctx context.Context, c *Client, method string, in any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListDialogs(ctx context.Context, in *ListDialogsRequest) (*ListDialogsResponse, error) {
	return call[ListDialogsResponse](ctx, c, "ListDialogs", in)
}

func (c *Client) FetchGroups(ctx context.Context, in *FetchGroupsRequest) (*FetchGroupsResponse, error) {
	return call[FetchGroupsResponse](ctx, c, "FetchGroups", in)
}

func (c *Client) SaveGroups(ctx context.Context, in *SaveGroupsRequest) (*SaveGroupsResponse, error) {
	return call[SaveGroupsResponse](ctx, c, "SaveGroups", in)
}

func (c *Client) ListArchived(ctx context.Context, in *ListArchivedRequest) (*ListArchivedResponse, error) {
	return call[ListArchivedResponse](ctx, c, "ListArchived", in)
}

func (c *Client) GetArchived(ctx context.Context, in *GetArchivedRequest) (*GetArchivedResponse, error) {
	return call[GetArchivedResponse](ctx, c, "GetArchived", in)
}

func (c *Client) ListTags(ctx context.Context, in *ListTagsRequest) (*ListTagsResponse, error) {
	return call[ListTagsResponse](ctx, c, "ListTags", in)
}

func (c *Client) AddTag(ctx context.Context, in *TagRequest) (*TagResponse, error) {
	return call[TagResponse](ctx, c, "AddTag", in)
}

func (c *Client) RemoveTag(ctx context.Context, in *TagRequest) (*TagResponse, error) {
	return call[TagResponse](ctx, c, "RemoveTag", in)
}

func (c *Client) RenameTag(ctx context.Context, in *RenameTagRequest) (*TagResponse, error) {
	return call[TagResponse](ctx, c, "RenameTag", in)
}

func (c *Client) RenameTagEverywhere(ctx context.Context, in *RenameTagRequest) (*TagResponse, error) {
	return call[TagResponse](ctx, c, "RenameTagEverywhere", in)
}

func (c *Client) Reconcile(ctx context.Context, in *ReconcileRequest) (*ReconcileResponse, error) {
	return call[ReconcileResponse](ctx, c, "Reconcile", in)
}

func (c *Client) Progress(ctx context.Context, in *ProgressRequest) (*ProgressResponse, error) {
	return call[ProgressResponse](ctx, c, "Progress", in)
}

func (c *Client) Status(ctx context.Context, in *StatusRequest) (*StatusResponse, error) {
	return call[StatusResponse](ctx, c, "Status", in)
}

func (c *Client) Logout(ctx context.Context, in *LogoutRequest) (*LogoutResponse, error) {
	return call[LogoutResponse](ctx, c, "Logout", in)
}

// Pair starts the pairing flow and calls fn for every event until the flow
// ends or fn returns an error.
func (c *Client) Pair(ctx context.Context, in *PairRequest, fn func(wa.PairEvent) error) error {
	stream, err := c.conn.NewStream(ctx, &ArchiveServiceDesc.Streams[0], fullMethod("Pair"))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		var evt wa.PairEvent
		err := stream.RecvMsg(&evt)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
