package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/gtrunner/internal/model"
	"github.com/seantiz/gtrunner/internal/tracestore"
)

// ErrInvalidTransition is returned when a campaign status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrInvalidSort is returned when a result listing names an unknown sort column.
var ErrInvalidSort = errors.New("invalid sort column")

// ResultFilter narrows and orders a result listing. TestName is a
// GoogleTest-style wildcard pattern. FailedOnly selects the failing
// verdicts unless Verdicts names an explicit set.
type ResultFilter struct {
	CampaignID string
	TestName   string
	Verdicts   []string
	FailedOnly bool
	Valgrind   *bool
	Origin     *string
	Since      time.Time
	SortBy     string
	SortDesc   bool
	Limit      int
	Offset     int
}

// Store defines the persistence operations for campaigns and results.
type Store interface {
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, limit, offset int) ([]*model.Campaign, int, error)
	UpdateCampaignStatus(ctx context.Context, id, status string) error
	UpdateCampaign(ctx context.Context, c *model.Campaign) error

	AddResult(ctx context.Context, r *model.TestResult) error
	AddResults(ctx context.Context, rs []*model.TestResult) error
	GetResult(ctx context.Context, id int64) (*model.TestResult, error)
	ListResults(ctx context.Context, f ResultFilter) ([]*model.TestResult, int, error)
	DeleteResults(ctx context.Context, ids []int64) ([]*model.TestResult, error)

	TraceRefs(ctx context.Context) ([]tracestore.FileRefs, []string, []tracestore.ExeRef, error)
	ApplyPrune(ctx context.Context, pruned []tracestore.PruneResult) error

	TestCaseStats(ctx context.Context, campaignID, namePattern string) ([]*model.TestCaseStats, error)
	CampaignStats(ctx context.Context, id string) (*model.CampaignStats, error)
	PassedTests(ctx context.Context, exeStamp int64) ([]string, error)

	SetRepeatRequest(ctx context.Context, testName string, requestedAt time.Time) error
	ClearRepeatRequest(ctx context.Context, testName string) error
	ListRepeatRequests(ctx context.Context) (map[string]time.Time, error)

	Close() error
}
