package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/statement-pipeline/constants"
	"github.com/joseph-ayodele/statement-pipeline/internal/common"
	"github.com/joseph-ayodele/statement-pipeline/internal/entity"
)

// JobOrder selects the sort applied by List.
type JobOrder int

const (
	// OrderOldestFirst is FIFO by created_at, used by processing queues.
	OrderOldestFirst JobOrder = iota
	// OrderNewestFirst is used by listing surfaces.
	OrderNewestFirst
	// OrderFewestRetriesFirst puts first attempts ahead of retried jobs, then FIFO.
	OrderFewestRetriesFirst
)

// JobFilter narrows List. Zero values match everything.
type JobFilter struct {
	Status   constants.JobStatus
	Filename string
}

type JobRepository interface {
	CreateOrResume(ctx context.Context, filename, fileType string, uploadDate time.Time, totalChunks int) (*entity.ProcessingJob, error)
	Get(ctx context.Context, filename string) (*entity.ProcessingJob, error)
	List(ctx context.Context, filter JobFilter, order JobOrder) ([]entity.ProcessingJob, error)
	TransitionStatus(ctx context.Context, filename string, to constants.JobStatus, errMsg string) error
	Retry(ctx context.Context, filename string) (bool, error)
	Release(ctx context.Context, filename string) (bool, error)
	SetMaxRetries(ctx context.Context, filename string, n int) error
	RetryEligible(ctx context.Context) ([]entity.ProcessingJob, error)
	MaxRetriesExceeded(ctx context.Context) ([]entity.ProcessingJob, error)
	Summary(ctx context.Context) (entity.JobSummary, error)
	Delete(ctx context.Context, filename string) (bool, error)
}

type jobRepo struct {
	db  *DB
	log *slog.Logger
}

func NewJobRepository(db *DB, log *slog.Logger) JobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &jobRepo{db: db, log: log}
}

var jobColumns = []string{
	"filename", "file_type", "upload_date", "status", "total_chunks", "processed_at",
	"error_message", "retry_count", "max_retries", "last_retry_at", "created_at", "updated_at",
}

func scanJob(rows *entsql.Rows) (entity.ProcessingJob, error) {
	var (
		j           entity.ProcessingJob
		status      string
		processedAt sql.NullTime
		errMsg      sql.NullString
		lastRetryAt sql.NullTime
	)
	err := rows.Scan(&j.Filename, &j.FileType, &j.UploadDate, &status, &j.TotalChunks, &processedAt,
		&errMsg, &j.RetryCount, &j.MaxRetries, &lastRetryAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return j, err
	}
	j.Status = constants.JobStatus(status)
	if processedAt.Valid {
		t := processedAt.Time
		j.ProcessedAt = &t
	}
	if errMsg.Valid {
		s := errMsg.String
		j.ErrorMessage = &s
	}
	if lastRetryAt.Valid {
		t := lastRetryAt.Time
		j.LastRetryAt = &t
	}
	return j, nil
}

func (r *jobRepo) selectJobs(p *entsql.Predicate, orderBy ...string) *entsql.Selector {
	s := entsql.Dialect(r.db.Dialect()).Select(jobColumns...).From(entsql.Table(tableJobs))
	if p != nil {
		s.Where(p)
	}
	return s.OrderBy(orderBy...)
}

func listJobs(ctx context.Context, q dialect.ExecQuerier, s *entsql.Selector) ([]entity.ProcessingJob, error) {
	var out []entity.ProcessingJob
	err := queryRows(ctx, q, s, func(rows *entsql.Rows) error {
		j, err := scanJob(rows)
		if err != nil {
			return err
		}
		out = append(out, j)
		return nil
	})
	return out, err
}

func getJob(ctx context.Context, q dialect.ExecQuerier, d, filename string) (*entity.ProcessingJob, error) {
	s := entsql.Dialect(d).Select(jobColumns...).From(entsql.Table(tableJobs)).
		Where(entsql.EQ("filename", filename)).Limit(1)
	jobs, err := listJobs(ctx, q, s)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

// createOrResume inserts a pending job, or refreshes the metadata of a pending/failed one.
// Completed and processing jobs are returned untouched with resumed=false.
func createOrResume(ctx context.Context, q dialect.ExecQuerier, db *DB, filename, fileType string, uploadDate time.Time, totalChunks int) (job *entity.ProcessingJob, changed bool, err error) {
	d := db.Dialect()
	existing, err := getJob(ctx, q, d, filename)
	if err != nil {
		return nil, false, err
	}
	now := db.now()
	uploadDate = uploadDate.UTC()

	if existing == nil {
		ins := entsql.Dialect(d).Insert(tableJobs).
			Columns("filename", "file_type", "upload_date", "status", "total_chunks",
				"retry_count", "max_retries", "created_at", "updated_at").
			Values(filename, fileType, uploadDate, string(constants.JobStatusPending), totalChunks,
				0, constants.DefaultMaxRetries, now, now)
		if _, err := execAffected(ctx, q, ins); err != nil {
			return nil, false, err
		}
		job, err := getJob(ctx, q, d, filename)
		return job, true, err
	}

	if existing.Status == constants.JobStatusCompleted || existing.Status == constants.JobStatusProcessing {
		return existing, false, nil
	}

	upd := entsql.Dialect(d).Update(tableJobs).
		Set("file_type", fileType).
		Set("upload_date", uploadDate).
		Set("total_chunks", totalChunks).
		Set("updated_at", now).
		Where(entsql.And(
			entsql.EQ("filename", filename),
			entsql.In("status", string(constants.JobStatusPending), string(constants.JobStatusFailed)),
		))
	if _, err := execAffected(ctx, q, upd); err != nil {
		return nil, false, err
	}
	job, err = getJob(ctx, q, d, filename)
	return job, true, err
}

func (r *jobRepo) CreateOrResume(ctx context.Context, filename, fileType string, uploadDate time.Time, totalChunks int) (*entity.ProcessingJob, error) {
	if filename == "" || totalChunks < 0 {
		return nil, common.NewAppError(common.CodeInvalidJob, "filename required and total_chunks must be >= 0", common.ErrInvalidInput)
	}
	var job *entity.ProcessingJob
	err := r.db.WithTx(ctx, func(tx dialect.ExecQuerier) error {
		var err error
		var changed bool
		job, changed, err = createOrResume(ctx, tx, r.db, filename, fileType, uploadDate, totalChunks)
		if err != nil {
			return dbErr("create or resume job", err)
		}
		if !changed {
			r.log.Info("processing_job left untouched", "filename", filename, "status", job.Status)
		}
		return nil
	})
	if err != nil {
		r.log.Error("processing_job create failed", "filename", filename, "err", err)
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) Get(ctx context.Context, filename string) (*entity.ProcessingJob, error) {
	job, err := getJob(ctx, r.db.drv, r.db.Dialect(), filename)
	if err != nil {
		return nil, dbErr("get job", err)
	}
	if job == nil {
		return nil, common.NewAppError(common.CodeJobNotFound, filename, common.ErrNotFound)
	}
	return job, nil
}

func (r *jobRepo) List(ctx context.Context, filter JobFilter, order JobOrder) ([]entity.ProcessingJob, error) {
	var preds []*entsql.Predicate
	if filter.Status != "" {
		preds = append(preds, entsql.EQ("status", string(filter.Status)))
	}
	if filter.Filename != "" {
		preds = append(preds, entsql.EQ("filename", filter.Filename))
	}
	var p *entsql.Predicate
	switch len(preds) {
	case 0:
	case 1:
		p = preds[0]
	default:
		p = entsql.And(preds...)
	}

	var orderBy []string
	switch order {
	case OrderNewestFirst:
		orderBy = []string{entsql.Desc("created_at"), entsql.Desc("filename")}
	case OrderFewestRetriesFirst:
		orderBy = []string{entsql.Asc("retry_count"), entsql.Asc("created_at"), entsql.Asc("filename")}
	default:
		orderBy = []string{entsql.Asc("created_at"), entsql.Asc("filename")}
	}

	jobs, err := listJobs(ctx, r.db.drv, r.selectJobs(p, orderBy...))
	if err != nil {
		return nil, dbErr("list jobs", err)
	}
	return jobs, nil
}

// allowedFrom lists the statuses a job may hold before moving to `to`.
func allowedFrom(to constants.JobStatus) []any {
	var from []any
	for _, st := range constants.AllJobStatuses {
		if constants.CanTransition(st, to) {
			from = append(from, string(st))
		}
	}
	return from
}

func (r *jobRepo) TransitionStatus(ctx context.Context, filename string, to constants.JobStatus, errMsg string) error {
	from := allowedFrom(to)
	if len(from) == 0 {
		return common.NewAppError(common.CodeInvalidTransition, fmt.Sprintf("no transition into %q", to), common.ErrInvalidTransition)
	}
	now := r.db.now()
	upd := entsql.Dialect(r.db.Dialect()).Update(tableJobs).
		Set("status", string(to)).
		Set("updated_at", now)
	switch to {
	case constants.JobStatusCompleted:
		upd.Set("processed_at", now).SetNull("error_message")
	case constants.JobStatusFailed:
		upd.Set("error_message", errMsg)
	}
	upd.Where(entsql.And(entsql.EQ("filename", filename), entsql.In("status", from...)))

	n, err := execAffected(ctx, r.db.drv, upd)
	if err != nil {
		r.log.Error("processing_job transition failed", "filename", filename, "to", to, "err", err)
		return dbErr("transition job", err)
	}
	if n == 0 {
		job, err := r.Get(ctx, filename)
		if err != nil {
			return err
		}
		return common.NewAppError(common.CodeInvalidTransition,
			fmt.Sprintf("%s: %s -> %s", filename, job.Status, to), common.ErrInvalidTransition)
	}
	r.log.Debug("processing_job transitioned", "filename", filename, "to", to)
	return nil
}

// Retry is the only way a failed job returns to pending. It is a single conditional
// update, so a job over budget is left exactly as it was.
func (r *jobRepo) Retry(ctx context.Context, filename string) (bool, error) {
	now := r.db.now()
	upd := entsql.Dialect(r.db.Dialect()).Update(tableJobs).
		Set("status", string(constants.JobStatusPending)).
		SetNull("error_message").
		Add("retry_count", 1).
		Set("last_retry_at", now).
		Set("updated_at", now).
		Where(entsql.And(
			entsql.EQ("filename", filename),
			entsql.EQ("status", string(constants.JobStatusFailed)),
			entsql.ColumnsLT("retry_count", "max_retries"),
		))
	n, err := execAffected(ctx, r.db.drv, upd)
	if err != nil {
		r.log.Error("processing_job retry failed", "filename", filename, "err", err)
		return false, dbErr("retry job", err)
	}
	if n == 0 {
		r.log.Info("processing_job not retryable", "filename", filename)
		return false, nil
	}
	r.log.Info("processing_job reset to pending", "filename", filename)
	return true, nil
}

func (r *jobRepo) SetMaxRetries(ctx context.Context, filename string, n int) error {
	if n < 0 {
		return common.NewAppError(common.CodeInvalidRetries, "max_retries must be >= 0", common.ErrInvalidInput)
	}
	upd := entsql.Dialect(r.db.Dialect()).Update(tableJobs).
		Set("max_retries", n).
		Set("updated_at", r.db.now()).
		Where(entsql.EQ("filename", filename))
	affected, err := execAffected(ctx, r.db.drv, upd)
	if err != nil {
		return dbErr("set max retries", err)
	}
	if affected == 0 {
		return common.NewAppError(common.CodeJobNotFound, filename, common.ErrNotFound)
	}
	r.log.Info("processing_job max_retries updated", "filename", filename, "max_retries", n)
	return nil
}

func (r *jobRepo) RetryEligible(ctx context.Context) ([]entity.ProcessingJob, error) {
	p := entsql.And(
		entsql.EQ("status", string(constants.JobStatusFailed)),
		entsql.ColumnsLT("retry_count", "max_retries"),
	)
	jobs, err := listJobs(ctx, r.db.drv, r.selectJobs(p, entsql.Asc("created_at"), entsql.Asc("filename")))
	if err != nil {
		return nil, dbErr("list retry eligible", err)
	}
	return jobs, nil
}

func (r *jobRepo) MaxRetriesExceeded(ctx context.Context) ([]entity.ProcessingJob, error) {
	p := entsql.And(
		entsql.EQ("status", string(constants.JobStatusFailed)),
		entsql.ColumnsGTE("retry_count", "max_retries"),
	)
	jobs, err := listJobs(ctx, r.db.drv, r.selectJobs(p, entsql.Asc("created_at"), entsql.Asc("filename")))
	if err != nil {
		return nil, dbErr("list max retries exceeded", err)
	}
	return jobs, nil
}

func (r *jobRepo) Summary(ctx context.Context) (entity.JobSummary, error) {
	var sum entity.JobSummary
	s := entsql.Dialect(r.db.Dialect()).
		Select("status", entsql.Count("*")).
		From(entsql.Table(tableJobs)).
		GroupBy("status")
	err := queryRows(ctx, r.db.drv, s, func(rows *entsql.Rows) error {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return err
		}
		switch constants.JobStatus(status) {
		case constants.JobStatusPending:
			sum.Pending = n
		case constants.JobStatusProcessing:
			sum.Processing = n
		case constants.JobStatusCompleted:
			sum.Completed = n
		case constants.JobStatusFailed:
			sum.Failed = n
		}
		return nil
	})
	if err != nil {
		return sum, dbErr("summarize jobs", err)
	}

	eligible, err := r.RetryEligible(ctx)
	if err != nil {
		return sum, err
	}
	exceeded, err := r.MaxRetriesExceeded(ctx)
	if err != nil {
		return sum, err
	}
	sum.RetryEligible = len(eligible)
	sum.MaxRetriesExceeded = len(exceeded)
	return sum, nil
}

// Release hands a claimed job back to pending with its retry_count and error untouched.
// It reports false when the job was not processing.
func (r *jobRepo) Release(ctx context.Context, filename string) (bool, error) {
	upd := entsql.Dialect(r.db.Dialect()).Update(tableJobs).
		Set("status", string(constants.JobStatusPending)).
		Set("updated_at", r.db.now()).
		Where(entsql.And(
			entsql.EQ("filename", filename),
			entsql.EQ("status", string(constants.JobStatusProcessing)),
		))
	n, err := execAffected(ctx, r.db.drv, upd)
	if err != nil {
		r.log.Error("processing_job release failed", "filename", filename, "err", err)
		return false, dbErr("release job", err)
	}
	if n > 0 {
		r.log.Info("processing_job released", "filename", filename)
	}
	return n > 0, nil
}

// Delete removes a job together with any chunks still stored for it.
func (r *jobRepo) Delete(ctx context.Context, filename string) (bool, error) {
	var deleted bool
	err := r.db.WithTx(ctx, func(tx dialect.ExecQuerier) error {
		if _, err := deleteChunks(ctx, tx, r.db.Dialect(), filename); err != nil {
			return dbErr("delete job chunks", err)
		}
		n, err := execAffected(ctx, tx, entsql.Dialect(r.db.Dialect()).Delete(tableJobs).Where(entsql.EQ("filename", filename)))
		if err != nil {
			return dbErr("delete job", err)
		}
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if deleted {
		r.log.Info("processing_job deleted", "filename", filename)
	}
	return deleted, nil
}

// IsStoreError reports whether err came from the database layer.
func IsStoreError(err error) bool {
	return errors.Is(err, common.ErrDatabase)
}
