package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"contestbot/internal/eventbus"
	logx "contestbot/pkg/logx"
)

// Config controls trigger evaluation.
type Config struct {
	// Timezone is the IANA zone cron specs are evaluated in. Empty means Local.
	Timezone string
}

// Runner executes a named job in its own goroutine.
// *supervisor.Supervisor satisfies it.
type Runner interface {
	Go(name string, fn func(ctx context.Context) error)
}

type Job func(ctx context.Context) error

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
	running       *atomic.Bool
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Job
	ver     uint64
	timer   *time.Timer
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	bus    eventbus.Bus
	runner Runner

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	skipMu   sync.Mutex
	lastSkip map[string]time.Time

	// one-shot jobs; timers only exist while started
	tmu     sync.Mutex
	once    map[string]*onceDef
	onceVer uint64
	started bool
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev,omitempty"`
}

// OnceInfo describes a pending one-shot job.
type OnceInfo struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

type Snapshot struct {
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
	Pending   []OnceInfo     `json:"pending"`
}
