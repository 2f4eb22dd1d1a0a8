package api

import (
	"context"
	"errors"

	"github.com/matheus3301/wpp-archive/internal/archive"
	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/store"
	"github.com/matheus3301/wpp-archive/internal/tags"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps domain errors to gRPC status errors.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, archive.ErrDialogNotFound),
		errors.Is(err, chat.ErrMessageNotFound):
		code = codes.NotFound
	case errors.Is(err, tags.ErrInvalidTagName):
		code = codes.InvalidArgument
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return grpcstatus.Error(code, err.Error())
}
