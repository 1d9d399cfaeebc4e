package server

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/statement-pipeline/constants"
	"github.com/joseph-ayodele/statement-pipeline/internal/common"
	"github.com/joseph-ayodele/statement-pipeline/internal/entity"
	"github.com/joseph-ayodele/statement-pipeline/internal/export"
	"github.com/joseph-ayodele/statement-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/statement-pipeline/internal/repository"
	"github.com/joseph-ayodele/statement-pipeline/internal/scheduler"
)

// Passes runs processing passes through the shared single-flight guard.
type Passes interface {
	Trigger(ctx context.Context) (scheduler.Result, error)
	RetryAll(ctx context.Context) (scheduler.Result, error)
}

// Service implements JobAdminServer against the local stores.
type Service struct {
	jobs   repository.JobRepository
	proc   *pipeline.Processor
	passes Passes
	export *export.Service
	logger *slog.Logger
}

var _ JobAdminServer = (*Service)(nil)

func NewService(jobs repository.JobRepository, proc *pipeline.Processor, passes Passes, exp *export.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, proc: proc, passes: passes, export: exp, logger: logger}
}

func (s *Service) ListJobs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	st := strings.TrimSpace(fields["status"].GetStringValue())
	filename := strings.TrimSpace(fields["filename"].GetStringValue())

	allowed := make([]string, 0, len(constants.AllJobStatuses))
	for _, a := range constants.AllJobStatuses {
		allowed = append(allowed, string(a))
	}
	v := common.NewValidator().
		Field("status", st, common.OneOf(allowed...)).
		Field("filename", filename, common.Filename)
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}

	jobs, err := s.jobs.List(ctx, repository.JobFilter{Status: constants.JobStatus(st), Filename: filename}, repository.OrderNewestFirst)
	if err != nil {
		common.LoggerFromContext(ctx, s.logger).Error("admin.list_jobs.failed", "err", err)
		return nil, common.ToStatus(err)
	}
	out := make([]any, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobFields(j))
	}
	return structpb.NewStruct(map[string]any{"jobs": out, "count": len(jobs)})
}

func (s *Service) GetSummary(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	sum, err := s.jobs.Summary(ctx)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"pending":              sum.Pending,
		"processing":           sum.Processing,
		"completed":            sum.Completed,
		"failed":               sum.Failed,
		"retry_eligible":       sum.RetryEligible,
		"max_retries_exceeded": sum.MaxRetriesExceeded,
		"total":                sum.Total(),
	})
}

func (s *Service) RetryJob(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	filename := strings.TrimSpace(req.GetValue())
	if err := validFilename(filename); err != nil {
		return nil, err
	}
	ok, err := s.proc.RetryJob(ctx, filename)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return wrapperspb.Bool(ok), nil
}

func (s *Service) RetryAllFailed(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	res, err := s.passes.RetryAll(ctx)
	if err != nil {
		common.LoggerFromContext(ctx, s.logger).Error("admin.retry_all.failed", "pass_id", res.PassID, "err", err)
		return nil, common.ToStatus(err)
	}
	fields := passFields(res)
	reset := make([]any, 0, len(res.Reset))
	for _, f := range res.Reset {
		reset = append(reset, f)
	}
	fields["reset"] = reset
	return structpb.NewStruct(fields)
}

func (s *Service) SetMaxRetries(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	fields := req.GetFields()
	filename := strings.TrimSpace(fields["filename"].GetStringValue())
	raw, ok := fields["max_retries"]
	if !ok {
		return nil, common.InvalidArgumentError("max_retries is required")
	}
	f := raw.GetNumberValue()
	if f != math.Trunc(f) || f > math.MaxInt32 {
		return nil, common.InvalidArgumentErrorf("max_retries must be an integer, got %v", f)
	}
	n := int(f)
	v := common.NewValidator().
		Field("filename", filename, common.Required, common.Filename).
		Field("max_retries", n, common.NonNegative)
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}
	if err := s.jobs.SetMaxRetries(ctx, filename, n); err != nil {
		return nil, common.ToStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) DeleteJob(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	filename := strings.TrimSpace(req.GetValue())
	if err := validFilename(filename); err != nil {
		return nil, err
	}
	deleted, err := s.jobs.Delete(ctx, filename)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return wrapperspb.Bool(deleted), nil
}

func (s *Service) ProcessNow(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	res, err := s.passes.Trigger(ctx)
	if err != nil {
		common.LoggerFromContext(ctx, s.logger).Error("admin.process_now.failed", "pass_id", res.PassID, "err", err)
		return nil, common.ToStatus(err)
	}
	return structpb.NewStruct(passFields(res))
}

func (s *Service) ExportXLSX(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	fields := req.GetFields()
	from := strings.TrimSpace(fields["from"].GetStringValue())
	to := strings.TrimSpace(fields["to"].GetStringValue())
	filename := strings.TrimSpace(fields["filename"].GetStringValue())

	v := common.NewValidator().
		Field("from", from, common.DateOnly).
		Field("to", to, common.DateOnly).
		Field("filename", filename, common.Filename)
	if err := common.ValidateAndReturnError(v); err != nil {
		return nil, err
	}

	w := export.Window{Filename: filename, From: parseDate(from), To: parseDate(to)}
	if w.From != nil && w.To != nil && w.To.Before(*w.From) {
		return nil, common.InvalidArgumentError("to must not be before from")
	}
	data, err := s.export.ExportXLSX(ctx, w)
	if err != nil {
		common.LoggerFromContext(ctx, s.logger).Error("export.xlsx.failed", "err", err)
		return nil, common.ToStatus(err)
	}
	return wrapperspb.Bytes(data), nil
}

func validFilename(filename string) error {
	v := common.NewValidator().Field("filename", filename, common.Required, common.Filename, common.MaxLength(255))
	return common.ValidateAndReturnError(v)
}

// parseDate expects a value that already passed DateOnly.
func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil
	}
	return &t
}

func jobFields(j entity.ProcessingJob) map[string]any {
	m := map[string]any{
		"filename":       j.Filename,
		"file_type":      j.FileType,
		"status":         string(j.Status),
		"total_chunks":   j.TotalChunks,
		"retry_count":    j.RetryCount,
		"max_retries":    j.MaxRetries,
		"retry_eligible": j.RetryEligible(),
		"upload_date":    j.UploadDate.UTC().Format(time.RFC3339),
		"created_at":     j.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":     j.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if j.ErrorMessage != nil {
		m["error_message"] = *j.ErrorMessage
	}
	if j.ProcessedAt != nil {
		m["processed_at"] = j.ProcessedAt.UTC().Format(time.RFC3339)
	}
	if j.LastRetryAt != nil {
		m["last_retry_at"] = j.LastRetryAt.UTC().Format(time.RFC3339)
	}
	return m
}

func passFields(r scheduler.Result) map[string]any {
	b := r.Batch
	return map[string]any{
		"pass_id":    r.PassID,
		"ran":        r.Ran,
		"pending":    b.Pending,
		"completed":  b.Completed,
		"failed":     b.Failed,
		"retried":    b.Retried,
		"skipped":    b.Skipped,
		"released":   b.Released,
		"rows":       b.Rows,
		"elapsed_ms": b.Elapsed.Milliseconds(),
	}
}
