package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name of the job admin API.
const ServiceName = "statements.admin.v1.JobAdmin"

// JobAdminServer is the job admin API. Messages are protobuf well-known types so the
// service needs no generated code; field names are documented on each method.
type JobAdminServer interface {
	// ListJobs accepts {status?, filename?} and returns {jobs: [...], count}.
	ListJobs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// GetSummary returns counts per status plus retry_eligible and max_retries_exceeded.
	GetSummary(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// RetryJob resets one failed job; false when it is not retry-eligible.
	RetryJob(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	// RetryAllFailed resets every eligible job then runs a guarded pass.
	RetryAllFailed(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// SetMaxRetries accepts {filename, max_retries}.
	SetMaxRetries(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// DeleteJob removes a job and its chunks; false when nothing was deleted.
	DeleteJob(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	// ProcessNow runs a guarded pass and returns its tally.
	ProcessNow(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// ExportXLSX accepts {from?, to?, filename?} and returns the workbook bytes.
	ExportXLSX(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unaryHandler[Req, Resp proto.Message](name string, newReq func() Req, call func(JobAdminServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(JobAdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(JobAdminServer), ctx, req.(Req))
			})
		},
	}
}

func newStruct() *structpb.Struct        { return &structpb.Struct{} }
func newEmpty() *emptypb.Empty           { return &emptypb.Empty{} }
func newString() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }

// JobAdminServiceDesc describes JobAdmin for grpc.Server.RegisterService.
var JobAdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*JobAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("ListJobs", newStruct, JobAdminServer.ListJobs),
		unaryHandler("GetSummary", newEmpty, JobAdminServer.GetSummary),
		unaryHandler("RetryJob", newString, JobAdminServer.RetryJob),
		unaryHandler("RetryAllFailed", newEmpty, JobAdminServer.RetryAllFailed),
		unaryHandler("SetMaxRetries", newStruct, JobAdminServer.SetMaxRetries),
		unaryHandler("DeleteJob", newString, JobAdminServer.DeleteJob),
		unaryHandler("ProcessNow", newEmpty, JobAdminServer.ProcessNow),
		unaryHandler("ExportXLSX", newStruct, JobAdminServer.ExportXLSX),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterJobAdminServer(s grpc.ServiceRegistrar, srv JobAdminServer) {
	s.RegisterService(&JobAdminServiceDesc, srv)
}

// Client calls a remote JobAdmin. It satisfies JobAdminServer so callers can swap a
// local Service for a remote one.
type Client struct {
	cc grpc.ClientConnInterface
}

var _ JobAdminServer = (*Client)(nil)

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp proto.Message](ctx context.Context, cc grpc.ClientConnInterface, name string, in proto.Message, out Resp) (Resp, error) {
	if err := cc.Invoke(ctx, fullMethod(name), in, out); err != nil {
		var zero Resp
		return zero, err
	}
	return out, nil
}

func (c *Client) ListJobs(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "ListJobs", in, newStruct())
}

func (c *Client) GetSummary(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "GetSummary", in, newStruct())
}

func (c *Client) RetryJob(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return invoke(ctx, c.cc, "RetryJob", in, &wrapperspb.BoolValue{})
}

func (c *Client) RetryAllFailed(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "RetryAllFailed", in, newStruct())
}

func (c *Client) SetMaxRetries(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	return invoke(ctx, c.cc, "SetMaxRetries", in, newEmpty())
}

func (c *Client) DeleteJob(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return invoke(ctx, c.cc, "DeleteJob", in, &wrapperspb.BoolValue{})
}

func (c *Client) ProcessNow(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error) {
	return invoke(ctx, c.cc, "ProcessNow", in, newStruct())
}

func (c *Client) ExportXLSX(ctx context.Context, in *structpb.Struct) (*wrapperspb.BytesValue, error) {
	return invoke(ctx, c.cc, "ExportXLSX", in, &wrapperspb.BytesValue{})
}
