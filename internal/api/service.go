// Package api exposes the archive daemon over gRPC on the profile's unix
// socket.
//
// Wire format: the service is wpparchive.v1.Archive, and method paths are
// "/wpparchive.v1.Archive/<Method>". Requests and responses are the structs
// in types.go encoded as JSON under their json tags, sent with the gRPC
// content subtype "json" (content-type application/grpc+json). Times are
// RFC 3339 strings and operation ids are UUID strings. Pair is the only
// streaming method: one PairRequest, then wa.PairEvent values until the flow
// ends. Any gRPC client that registers a JSON codec can call the daemon.
package api

import (
	"context"

	"github.com/matheus3301/wpp-archive/internal/wa"
	"google.golang.org/grpc"
)

// ServiceName is the full name of the archive service.
const ServiceName = "wpparchive.v1.Archive"

// ArchiveServer is the server API of the archive service.
type ArchiveServer interface {
	ListDialogs(context.Context, *ListDialogsRequest) (*ListDialogsResponse, error)
	FetchGroups(context.Context, *FetchGroupsRequest) (*FetchGroupsResponse, error)
	SaveGroups(context.Context, *SaveGroupsRequest) (*SaveGroupsResponse, error)
	ListArchived(context.Context, *ListArchivedRequest) (*ListArchivedResponse, error)
	GetArchived(context.Context, *GetArchivedRequest) (*GetArchivedResponse, error)
	ListTags(context.Context, *ListTagsRequest) (*ListTagsResponse, error)
	AddTag(context.Context, *TagRequest) (*TagResponse, error)
	RemoveTag(context.Context, *TagRequest) (*TagResponse, error)
	RenameTag(context.Context, *RenameTagRequest) (*TagResponse, error)
	RenameTagEverywhere(context.Context, *RenameTagRequest) (*TagResponse, error)
	Reconcile(context.Context, *ReconcileRequest) (*ReconcileResponse, error)
	Progress(context.Context, *ProgressRequest) (*ProgressResponse, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	Pair(*PairRequest, PairServer) error
}

// PairServer streams pairing events to the caller.
type PairServer interface {
	Send(*wa.PairEvent) error
	grpc.ServerStream
}

type pairServer struct {
	grpc.ServerStream
}

func (s *pairServer) Send(e *wa.PairEvent) error {
	return s.ServerStream.SendMsg(e)
}

// ArchiveServiceDesc describes the archive service for grpc.Server.
var ArchiveServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ArchiveServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListDialogs", ArchiveServer.ListDialogs),
		unary("FetchGroups", ArchiveServer.FetchGroups),
		unary("SaveGroups", ArchiveServer.SaveGroups),
		unary("ListArchived", ArchiveServer.ListArchived),
		unary("GetArchived", ArchiveServer.GetArchived),
		unary("ListTags", ArchiveServer.ListTags),
		unary("AddTag", ArchiveServer.AddTag),
		unary("RemoveTag", ArchiveServer.RemoveTag),
		unary("RenameTag", ArchiveServer.RenameTag),
		unary("RenameTagEverywhere", ArchiveServer.RenameTagEverywhere),
		unary("Reconcile", ArchiveServer.Reconcile),
		unary("Progress", ArchiveServer.Progress),
		unary("Status", ArchiveServer.Status),
		unary("Logout", ArchiveServer.Logout),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Pair",
			Handler:       pairHandler,
			ServerStreams: true,
		},
	},
}

// RegisterArchiveServer registers srv on s.
func RegisterArchiveServer(s grpc.ServiceRegistrar, srv ArchiveServer) {
	s.RegisterService(&ArchiveServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, call func(ArchiveServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ArchiveServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

func pairHandler(srv any, stream grpc.ServerStream) error {
	in := new(PairRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ArchiveServer).Pair(in, &pairServer{stream})
}
