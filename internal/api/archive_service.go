package api

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wpp-archive/internal/aggregate"
	"github.com/matheus3301/wpp-archive/internal/archive"
	"github.com/matheus3301/wpp-archive/internal/bus"
	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/progress"
	"github.com/matheus3301/wpp-archive/internal/reconcile"
	"github.com/matheus3301/wpp-archive/internal/status"
	"github.com/matheus3301/wpp-archive/internal/store"
	"github.com/matheus3301/wpp-archive/internal/tags"
	"github.com/matheus3301/wpp-archive/internal/wa"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Reconciler runs a reconciliation pass.
type Reconciler interface {
	Run(ctx context.Context) (*reconcile.Report, error)
}

// Account manages the WhatsApp device link. *wa.Adapter implements it.
type Account interface {
	StartQRAuth(ctx context.Context) (<-chan wa.PairEvent, error)
	Logout(ctx context.Context) error
	PhoneNumber() string
}

// Deps are the components the archive service delegates to. Account, Bus,
// LastReport and Logger may be nil.
type Deps struct {
	Session    string
	Bus        *bus.Bus
	DB         *store.DB
	Fetcher    *archive.Fetcher
	Saver      *archive.Saver
	Gate       *archive.Gate
	Tags       *tags.Manager
	Reconciler Reconciler
	Progress   *progress.Log
	Machine    *status.Machine
	Account    Account
	LastReport func() *reconcile.Report
	Logger     *zap.Logger
}

var _ ArchiveServer = (*ArchiveService)(nil)

// ArchiveService implements ArchiveServer.
type ArchiveService struct {
	d         Deps
	startedAt time.Time
}

// NewArchiveService creates the archive service.
func NewArchiveService(d Deps) *ArchiveService {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &ArchiveService{d: d, startedAt: time.Now()}
}

func (s *ArchiveService) ListDialogs(ctx context.Context, req *ListDialogsRequest) (*ListDialogsResponse, error) {
	dialogs, err := s.d.Fetcher.Dialogs(ctx, req.Filter)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListDialogsResponse{Dialogs: dialogs}, nil
}

func (s *ArchiveService) FetchGroups(ctx context.Context, req *FetchGroupsRequest) (*FetchGroupsResponse, error) {
	dialog, groups, err := s.fetch(ctx, req.DialogID, req.Query)
	if err != nil {
		return nil, toStatus(err)
	}
	return &FetchGroupsResponse{Dialog: dialog, Groups: groups}, nil
}

func (s *ArchiveService) fetch(ctx context.Context, dialogID int64, q archive.Query) (chat.Dialog, []*aggregate.Group, error) {
	dialog, err := s.d.Fetcher.Dialog(ctx, dialogID)
	if err != nil {
		return chat.Dialog{}, nil, err
	}
	groups, err := s.d.Fetcher.Groups(ctx, dialog, q)
	if err != nil {
		return chat.Dialog{}, nil, err
	}
	return dialog, groups, nil
}

func (s *ArchiveService) SaveGroups(ctx context.Context, req *SaveGroupsRequest) (*SaveGroupsResponse, error) {
	if len(req.GroupedIDs) == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "no groups selected")
	}
	if state := s.d.Machine.Current(); !state.CanFetch() {
		return nil, grpcstatus.Errorf(codes.FailedPrecondition, "cannot download while %s", state)
	}

	dialog, groups, err := s.fetch(ctx, req.DialogID, req.Query)
	if err != nil {
		return nil, toStatus(err)
	}
	var selected []*aggregate.Group
	for _, g := range groups {
		if slices.Contains(req.GroupedIDs, g.Key) {
			selected = append(selected, g)
		}
	}
	var unknown []string
	for _, key := range req.GroupedIDs {
		if !slices.ContainsFunc(selected, func(g *aggregate.Group) bool { return g.Key == key }) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		s.d.Logger.Warn("selected groups not in fetch", zap.Int64("dialog_id", dialog.ID), zap.Strings("grouped_ids", unknown))
	}
	if len(selected) == 0 {
		return nil, grpcstatus.Errorf(codes.NotFound, "none of the %d selected groups were fetched", len(req.GroupedIDs))
	}

	res, err := s.d.Saver.Save(ctx, dialog, selected)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SaveGroupsResponse{Result: res, Unknown: unknown}, nil
}

func (s *ArchiveService) ListArchived(ctx context.Context, req *ListArchivedRequest) (*ListArchivedResponse, error) {
	dialogs, err := s.d.DB.ListDialogs(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	groups, err := s.d.DB.ListGroups(ctx, req.Query)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListArchivedResponse{Dialogs: dialogs, Groups: groups}, nil
}

func (s *ArchiveService) GetArchived(ctx context.Context, req *GetArchivedRequest) (*GetArchivedResponse, error) {
	g, err := s.d.DB.GetGroup(ctx, req.GroupedID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetArchivedResponse{Group: g}, nil
}

func (s *ArchiveService) ListTags(ctx context.Context, req *ListTagsRequest) (*ListTagsResponse, error) {
	list, err := s.d.Tags.List(ctx, req.Sort)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListTagsResponse{Tags: list}, nil
}

func (s *ArchiveService) AddTag(ctx context.Context, req *TagRequest) (*TagResponse, error) {
	return tagResponse(s.d.Tags.Add(ctx, req.Name, req.GroupedID))
}

func (s *ArchiveService) RemoveTag(ctx context.Context, req *TagRequest) (*TagResponse, error) {
	return tagResponse(s.d.Tags.Remove(ctx, req.Name, req.GroupedID))
}

func (s *ArchiveService) RenameTag(ctx context.Context, req *RenameTagRequest) (*TagResponse, error) {
	return tagResponse(s.d.Tags.Rename(ctx, req.OldName, req.NewName, req.GroupedID))
}

func (s *ArchiveService) RenameTagEverywhere(ctx context.Context, req *RenameTagRequest) (*TagResponse, error) {
	return tagResponse(s.d.Tags.RenameEverywhere(ctx, req.OldName, req.NewName))
}

func tagResponse(res *tags.Result, err error) (*TagResponse, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return &TagResponse{Result: res}, nil
}

func (s *ArchiveService) Reconcile(ctx context.Context, _ *ReconcileRequest) (*ReconcileResponse, error) {
	report, err := s.d.Reconciler.Run(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ReconcileResponse{Report: report}, nil
}

func (s *ArchiveService) Progress(_ context.Context, req *ProgressRequest) (*ProgressResponse, error) {
	if req.Limit < 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "negative limit")
	}
	var entries []progress.Entry
	if req.Operation != uuid.Nil {
		entries = s.d.Progress.Operation(req.Operation)
	} else {
		entries = s.d.Progress.Entries(req.Limit)
	}
	return &ProgressResponse{Entries: entries}, nil
}

func (s *ArchiveService) Status(ctx context.Context, _ *StatusRequest) (*StatusResponse, error) {
	state, since := s.d.Machine.Snapshot()
	resp := &StatusResponse{
		Session:       s.d.Session,
		State:         state,
		StateSince:    since,
		UptimeMs:      time.Since(s.startedAt).Milliseconds(),
		Activity:      s.d.Gate.Active(),
		DroppedEvents: s.d.Bus.Dropped(),
	}
	if s.d.Account != nil {
		resp.PhoneNumber = s.d.Account.PhoneNumber()
	}
	if s.d.LastReport != nil {
		resp.LastReconcile = s.d.LastReport()
	}

	dialogs, err := s.d.DB.ListDialogs(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp.Dialogs = len(dialogs)
	for _, d := range dialogs {
		resp.Groups += d.Groups
	}
	return resp, nil
}

func (s *ArchiveService) Logout(ctx context.Context, _ *LogoutRequest) (*LogoutResponse, error) {
	if s.d.Account == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "adapter not initialized")
	}
	if err := s.d.Account.Logout(ctx); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "logout: %v", err)
	}
	return &LogoutResponse{}, nil
}

func (s *ArchiveService) Pair(_ *PairRequest, stream PairServer) error {
	if s.d.Account == nil {
		return grpcstatus.Error(codes.Unavailable, "adapter not initialized")
	}
	if s.d.Machine.Current() != status.PairingRequired {
		return grpcstatus.Errorf(codes.FailedPrecondition, "pairing not required while %s", s.d.Machine.Current())
	}

	events, err := s.d.Account.StartQRAuth(stream.Context())
	if errors.Is(err, wa.ErrAlreadyPaired) {
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	}
	if err != nil {
		return grpcstatus.Errorf(codes.Internal, "start pairing: %v", err)
	}
	for evt := range events {
		if err := stream.Send(&evt); err != nil {
			return err
		}
	}
	return nil
}
