package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"pageemu/internal/analytics"
	"pageemu/internal/storage/model"
	"pageemu/pkg/domain"

	"github.com/spf13/cobra"
)

var (
	loadUsers   int
	loadEvents  int
	loadWait    time.Duration
	loadPrefix  string
	loadLang    string
)

// loadtestCmd 以合成事件压测调度器
var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Submit synthetic events and report delivery outcomes",
	Long: `Emulate --users distinct users each sending --events events, wait for all
deliveries to finish (or --wait to elapse) and print a summary.

Events are named event_0 .. event_N so every event opens a different view.`,
	RunE: runLoadtest,
}

func init() {
	loadtestCmd.Flags().IntVar(&loadUsers, "users", 20, "Number of synthetic users")
	loadtestCmd.Flags().IntVar(&loadEvents, "events", 5, "Events per user")
	loadtestCmd.Flags().DurationVar(&loadWait, "wait", 5*time.Minute, "Maximum time to wait for deliveries")
	loadtestCmd.Flags().StringVar(&loadPrefix, "prefix", "loadtest-", "User ID prefix")
	loadtestCmd.Flags().StringVar(&loadLang, "lang", "en", "Value of the lang event parameter")
}

// tally 统计投递结果并转发给下游记录器
type tally struct {
	next    analytics.Recorder
	mu      sync.Mutex
	counts  map[string]int
	done    atomic.Int64
	want    int64
	allDone chan struct{}
	once    sync.Once
}

func (t *tally) Record(rec model.DeliveryRecord) {
	t.mu.Lock()
	t.counts[rec.Status]++
	t.mu.Unlock()
	if t.next != nil {
		t.next.Record(rec)
	}
	if t.done.Add(1) >= t.want {
		t.once.Do(func() { close(t.allDone) })
	}
}

func (t *tally) snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

func runLoadtest(cmd *cobra.Command, args []string) error {
	if loadUsers <= 0 || loadEvents <= 0 {
		return fmt.Errorf("--users and --events must be positive")
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := &tally{
		counts:  make(map[string]int),
		want:    int64(loadUsers * loadEvents),
		allDone: make(chan struct{}),
	}
	a, err := newApp(ctx, cfg, log, func(next analytics.Recorder) analytics.Recorder {
		t.next = next
		return t
	})
	if err != nil {
		return err
	}

	start := time.Now()
	for e := 0; e < loadEvents; e++ {
		for u := 0; u < loadUsers; u++ {
			_, err := a.events.SendEvent(domain.Event{
				UserID: domain.UserID(fmt.Sprintf("%s%d", loadPrefix, u)),
				Name:   fmt.Sprintf("event_%d", e),
				Params: map[string]any{"lang": loadLang},
			})
			if err != nil {
				log.Warn("事件提交失败", "user", u, "event", e, "error", err)
			}
		}
	}

	select {
	case <-t.allDone:
	case <-time.After(loadWait):
		log.Warn("等待投递超时", "wait", loadWait)
	case <-ctx.Done():
	}
	elapsed := time.Since(start)
	stats := a.sched.Stats()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	closeErr := a.close(shutdownCtx)

	counts := t.snapshot()
	fmt.Fprintf(cmd.OutOrStdout(), "users=%d events=%d elapsed=%s\n", loadUsers, loadEvents, elapsed.Round(time.Millisecond))
	fmt.Fprintf(cmd.OutOrStdout(), "sent=%d failed=%d rejected=%d\n",
		counts[string(domain.DeliverySent)], counts[string(domain.DeliveryFailed)], counts[string(domain.DeliveryRejected)])
	fmt.Fprintf(cmd.OutOrStdout(), "live=%d queued=%d at finish\n", stats.Live, stats.Queued)
	return closeErr
}
