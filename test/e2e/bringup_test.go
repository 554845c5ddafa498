//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/labrig/labrig/internal/config"
	"github.com/labrig/labrig/internal/engine"
	"github.com/labrig/labrig/internal/history"
	"github.com/labrig/labrig/internal/plan"
	"github.com/labrig/labrig/internal/report"
)

// labDirs holds the on-disk layout of one test lab: config, plans and
// a state directory the shell commands use as the machines' disk.
type labDirs struct {
	root  string
	state string
	cfg   *config.Config
}

func newLab() *labDirs {
	root, err := os.MkdirTemp("", "labrig-e2e-*")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { os.RemoveAll(root) })

	state := filepath.Join(root, "state")
	Expect(os.MkdirAll(state, 0o755)).To(Succeed())

	configYAML := fmt.Sprintf(`lab: e2elab
plans_dir: %s
log_dir: %s
history_db: %s
defaults:
  concurrency: 4
  command_timeout: 10s
  retry:
    max_attempts: 4
    initial_delay: 1ms
    multiplier: 1
    max_delay: 10ms
hosts:
  - id: dc1
    transport: local
  - id: db1
    transport: local
  - id: ws1
    transport: local
`, root, filepath.Join(root, "logs"), filepath.Join(root, "history.db"))

	configPath := filepath.Join(root, "labrig.yaml")
	Expect(os.WriteFile(configPath, []byte(configYAML), 0o644)).To(Succeed())

	cfg, err := config.Load(configPath)
	Expect(err).NotTo(HaveOccurred())
	return &labDirs{root: root, state: state, cfg: cfg}
}

// loadPlan writes the plan to the lab's plans dir and loads it back,
// so the YAML path is exercised the way the CLI exercises it.
func (l *labDirs) loadPlan(name, planYAML string) *plan.Plan {
	path := filepath.Join(l.root, name+".yaml")
	Expect(os.WriteFile(path, []byte(planYAML), 0o644)).To(Succeed())

	p, err := plan.Load(path)
	Expect(err).NotTo(HaveOccurred())
	Expect(p.Validate(l.cfg.HostIDs(), l.cfg.Defaults.Retry)).To(Succeed())
	return p
}

func (l *labDirs) apply(ctx context.Context, p *plan.Plan) *plan.Run {
	run := engine.New(l.cfg, engine.Options{}).Run(ctx, p)
	Expect(run).NotTo(BeNil())
	return run
}

func (l *labDirs) marker(name string) string {
	return filepath.Join(l.state, name)
}

var _ = Describe("Lab bring-up over local transports", func() {
	var lab *labDirs

	BeforeEach(func() {
		lab = newLab()
	})

	It("provisions a three-host lab in dependency order and skips everything on rerun", func() {
		planYAML := fmt.Sprintf(`plan: bringup
description: directory, database, workstation
stages:
  - id: directory
    host: dc1
    pre:
      run: test -f %[1]s
    action:
      run: touch %[1]s
    post:
      run: test -f %[1]s
  - id: database
    host: db1
    needs: [directory]
    pre:
      run: test -f %[2]s
    action:
      run: test -f %[1]s && touch %[2]s
    post:
      run: test -f %[2]s
  - id: workstation
    host: ws1
    needs: [database]
    pre:
      run: test -f %[3]s
    action:
      run: test -f %[2]s && touch %[3]s
    post:
      run: test -f %[3]s
`, lab.marker("dc1-ready"), lab.marker("db1-joined"), lab.marker("ws1-enrolled"))
		p := lab.loadPlan("bringup", planYAML)

		By("first run executes every stage")
		run := lab.apply(context.Background(), p)
		Expect(run.Status()).To(Equal(plan.StatusAllSucceeded))
		Expect(run.ExitCode()).To(BeZero())
		Expect(run.Counts().Succeeded).To(Equal(3))
		Expect(lab.marker("ws1-enrolled")).To(BeAnExistingFile())

		By("second run finds every precondition satisfied")
		again := lab.apply(context.Background(), p)
		Expect(again.Status()).To(Equal(plan.StatusAllSucceeded))
		Expect(again.ExitCode()).To(BeZero())
		Expect(again.Counts().Skipped).To(Equal(3))
		Expect(again.Counts().Succeeded).To(BeZero())
	})

	It("polls a retryable postcondition until the state converges", func() {
		// The probe increments a counter each time it runs and only
		// passes from the second invocation on, standing in for state
		// that lags the action.
		counter := lab.marker("poll-count")
		planYAML := fmt.Sprintf(`plan: converge
stages:
  - id: replicate
    host: dc1
    action:
      run: touch %s
    post:
      run: "c=$(cat %[2]s 2>/dev/null || echo 0); c=$((c+1)); echo $c > %[2]s; test $c -ge 2"
      retryable: true
`, lab.marker("synced"), counter)
		p := lab.loadPlan("converge", planYAML)

		run := lab.apply(context.Background(), p)
		Expect(run.Status()).To(Equal(plan.StatusAllSucceeded))

		o, ok := run.OutcomeFor("replicate")
		Expect(ok).To(BeTrue())
		Expect(o.State).To(Equal(plan.StateSucceeded))

		polls, err := os.ReadFile(counter)
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.TrimSpace(string(polls))).To(Equal("2"))
	})

	It("fails a stage, blocks its dependents and leaves unrelated lanes alone", func() {
		planYAML := fmt.Sprintf(`plan: partial
stages:
  - id: promote
    host: dc1
    action:
      run: "false"
  - id: join
    host: db1
    needs: [promote]
    action:
      run: touch %s
  - id: tune
    host: db1
    action:
      run: touch %s
`, lab.marker("db1-joined"), lab.marker("db1-tuned"))
		p := lab.loadPlan("partial", planYAML)

		run := lab.apply(context.Background(), p)
		Expect(run.Status()).To(Equal(plan.StatusPartialFailure))
		Expect(run.ExitCode()).To(Equal(1))

		promote, _ := run.OutcomeFor("promote")
		Expect(promote.State).To(Equal(plan.StateFailed))
		// Inline non-zero exits are fatal, so no retries burned.
		Expect(promote.Attempts).To(Equal(1))

		join, _ := run.OutcomeFor("join")
		Expect(join.State).To(Equal(plan.StateIndeterminate))
		Expect(join.Reason).To(ContainSubstring("blocked"))
		Expect(lab.marker("db1-joined")).NotTo(BeAnExistingFile())

		tune, _ := run.OutcomeFor("tune")
		Expect(tune.State).To(Equal(plan.StateSucceeded))
		Expect(lab.marker("db1-tuned")).To(BeAnExistingFile())

		summary := report.Summary(run)
		Expect(summary).To(ContainSubstring("promote"))
		Expect(summary).To(ContainSubstring("partial"))
	})

	It("seals unstarted stages when the run is canceled", func() {
		planYAML := fmt.Sprintf(`plan: abort
stages:
  - id: slow
    host: dc1
    action:
      run: sleep 0.3 && touch %s
  - id: queued
    host: dc1
    action:
      run: touch %s
`, lab.marker("slow-done"), lab.marker("queued-done"))
		p := lab.loadPlan("abort", planYAML)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(50*time.Millisecond, cancel)

		run := lab.apply(ctx, p)
		Expect(run.Aborted).To(BeTrue())
		Expect(run.Status()).To(Equal(plan.StatusAborted))
		Expect(run.ExitCode()).To(Equal(3))

		// The in-flight command finished rather than being killed.
		slow, _ := run.OutcomeFor("slow")
		Expect(slow.State).To(Equal(plan.StateSucceeded))
		Expect(lab.marker("slow-done")).To(BeAnExistingFile())

		queued, _ := run.OutcomeFor("queued")
		Expect(queued.State).To(Equal(plan.StateIndeterminate))
		Expect(queued.Reason).To(Equal("aborted before start"))
		Expect(lab.marker("queued-done")).NotTo(BeAnExistingFile())
	})

	It("records the run and reads it back through the history store", func() {
		planYAML := fmt.Sprintf(`plan: recorded
stages:
  - id: only
    host: dc1
    action:
      run: touch %s
`, lab.marker("only-done"))
		p := lab.loadPlan("recorded", planYAML)

		run := lab.apply(context.Background(), p)
		Expect(run.Status()).To(Equal(plan.StatusAllSucceeded))

		store, err := history.Open(lab.cfg.HistoryDB)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { store.Close() })

		Expect(store.Save(run)).To(Succeed())

		got, err := store.Get(run.ID[:8])
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Plan).To(Equal("recorded"))
		Expect(got.Outcomes).To(HaveLen(1))
		Expect(got.Outcomes[0].State).To(Equal(plan.StateSucceeded))
	})
})
