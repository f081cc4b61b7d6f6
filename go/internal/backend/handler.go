package backend

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
)

// NewHandler mounts svc on a mux under the Connect procedure paths.
// Requests are validated before they reach svc.
func NewHandler(svc Service, opts ...connect.HandlerOption) http.Handler {
	opts = append([]connect.HandlerOption{handlerCodecs()}, opts...)
	mux := http.NewServeMux()

	mux.Handle(GetCurrentSnapshotProcedure, connect.NewUnaryHandler(GetCurrentSnapshotProcedure,
		unary(svc.GetCurrentSnapshot), opts...))
	mux.Handle(SubmitVoteProcedure, connect.NewUnaryHandler(SubmitVoteProcedure,
		unary(svc.SubmitVote), opts...))
	mux.Handle(HeartbeatProcedure, connect.NewUnaryHandler(HeartbeatProcedure,
		unary(svc.Heartbeat), opts...))
	mux.Handle(ReportPeakProcedure, connect.NewUnaryHandler(ReportPeakProcedure,
		unary(svc.ReportPeak), opts...))
	mux.Handle(RecordPresenceProcedure, connect.NewUnaryHandler(RecordPresenceProcedure,
		unary(svc.RecordPresence), opts...))
	mux.Handle(GetCityPresenceCountsProcedure, connect.NewUnaryHandler(GetCityPresenceCountsProcedure,
		unary(svc.GetCityPresenceCounts), opts...))

	return mux
}

func unary[Req, Res any](fn func(context.Context, *Req) (*Res, error)) func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error) {
	return func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
		if v, ok := any(req.Msg).(validator); ok {
			if err := v.Validate(); err != nil {
				return nil, connect.NewError(connect.CodeInvalidArgument, err)
			}
		}
		res, err := fn(ctx, req.Msg)
		if err != nil {
			var connectErr *connect.Error
			if errors.As(err, &connectErr) {
				return nil, err
			}
			if IsRateLimited(err) {
				return nil, connect.NewError(connect.CodeResourceExhausted, err)
			}
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		return connect.NewResponse(res), nil
	}
}
