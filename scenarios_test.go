package comprice_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/cucumber/godog"

	"github.com/nevindra/comprice"
	"github.com/nevindra/comprice/store/sqlite"
	"github.com/nevindra/comprice/tools/devices"
)

// TestAgentScenarios runs the Gherkin scenarios in features/.
func TestAgentScenarios(t *testing.T) {
	suite := godog.TestSuite{
		Name: "agent",
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			initializeAgentScenario(t, sc)
		},
		Options: &godog.Options{
			Format:    "pretty",
			Paths:     []string{filepath.Join("features", "agent.feature")},
			Strict:    true,
			TestingT:  t,
			Randomize: 0,
		},
	}
	if suite.Run() != 0 {
		t.Fatalf("non-zero godog status")
	}
}

func initializeAgentScenario(t *testing.T, sc *godog.ScenarioContext) {
	s := &agentScenario{t: t}
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return ctx, s.reset()
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if s.store != nil {
			s.store.Close()
		}
		return ctx, nil
	})

	sc.Step(`^a device catalog:$`, s.givenCatalog)
	sc.Step(`^the model replies:$`, s.givenReplies)
	sc.Step(`^the model always calls (\w+)$`, s.givenAlwaysCalls)
	sc.Step(`^the device store times out on the first query$`, s.givenStoreTimesOut)
	sc.Step(`^the step limit is (\d+)$`, s.givenStepLimit)
	sc.Step(`^I ask "([^"]*)"$`, s.whenIAsk)
	sc.Step(`^the run answers "([^"]*)"$`, s.thenAnswers)
	sc.Step(`^the run fails with reason "([^"]*)"$`, s.thenFails)
	sc.Step(`^(\d+) tool calls? (?:was|were) dispatched$`, s.thenToolCalls)
	sc.Step(`^the malformed count is (\d+)$`, s.thenMalformed)
	sc.Step(`^the model was called (\d+) times$`, s.thenModelCalls)
	sc.Step(`^observation (\d+) lists (\d+) rows$`, s.thenObservationRows)
	sc.Step(`^observation (\d+) contains "([^"]*)"$`, s.thenObservationContains)
	sc.Step(`^observation (\d+) failed with "([^"]*)"$`, s.thenObservationFailed)
}

type agentScenario struct {
	t        *testing.T
	store    *sqlite.Store
	flaky    *flakyStore
	model    *replayModel
	maxSteps int
	outcome  comprice.Outcome
}

func (s *agentScenario) reset() error {
	s.store = sqlite.New(filepath.Join(s.t.TempDir(), "scenario.db"))
	s.flaky = &flakyStore{inner: s.store}
	s.model = &replayModel{}
	s.maxSteps = comprice.DefaultMaxSteps
	s.outcome = comprice.Outcome{}
	return s.store.Init(context.Background())
}

func (s *agentScenario) givenCatalog(table *godog.Table) error {
	header := table.Rows[0].Cells
	var rows []comprice.Row
	for _, r := range table.Rows[1:] {
		row := comprice.Row{}
		for i, c := range r.Cells {
			col := header[i].Value
			if col == "price" {
				f, err := strconv.ParseFloat(c.Value, 64)
				if err != nil {
					return err
				}
				row[col] = f
				continue
			}
			row[col] = c.Value
		}
		rows = append(rows, row)
	}
	return s.store.InsertDevices(context.Background(), rows)
}

func (s *agentScenario) givenReplies(table *godog.Table) error {
	for i, r := range table.Rows[1:] {
		kind, body := r.Cells[0].Value, r.Cells[1].Value
		switch kind {
		case "tool":
			name, args, _ := strings.Cut(body, " ")
			if args == "" {
				args = "{}"
			}
			s.model.replies = append(s.model.replies, comprice.ChatResponse{
				ToolCalls: []comprice.ToolCall{{ID: fmt.Sprintf("call_%d", i+1), Name: name, Args: json.RawMessage(args)}},
			})
		case "final":
			s.model.replies = append(s.model.replies, comprice.ChatResponse{Content: "Final Answer: " + body})
		case "text":
			s.model.replies = append(s.model.replies, comprice.ChatResponse{Content: body})
		default:
			return fmt.Errorf("unknown reply kind %q", kind)
		}
	}
	return nil
}

func (s *agentScenario) givenAlwaysCalls(tool string) error {
	s.model.always = &comprice.ChatResponse{
		ToolCalls: []comprice.ToolCall{{ID: "loop", Name: tool, Args: json.RawMessage(`{}`)}},
	}
	return nil
}

func (s *agentScenario) givenStoreTimesOut() error {
	s.flaky.failFirst = true
	return nil
}

func (s *agentScenario) givenStepLimit(n int) error {
	s.maxSteps = n
	return nil
}

func (s *agentScenario) whenIAsk(question string) error {
	agent := comprice.NewAgent(s.model,
		comprice.WithTools(devices.New(s.flaky)),
		comprice.WithMaxSteps(s.maxSteps))
	s.outcome = agent.Run(context.Background(), question)
	return nil
}

func (s *agentScenario) thenAnswers(want string) error {
	if !s.outcome.Answered() {
		return fmt.Errorf("run failed: %s (%v)", s.outcome.Reason, s.outcome.Err)
	}
	if s.outcome.Text != want {
		return fmt.Errorf("answer = %q, want %q", s.outcome.Text, want)
	}
	return nil
}

func (s *agentScenario) thenFails(reason string) error {
	if s.outcome.Answered() {
		return fmt.Errorf("run answered %q", s.outcome.Text)
	}
	if s.outcome.Reason != reason {
		return fmt.Errorf("reason = %q, want %q", s.outcome.Reason, reason)
	}
	return nil
}

func (s *agentScenario) thenToolCalls(n int) error {
	if s.outcome.ToolCalls != n {
		return fmt.Errorf("tool calls = %d, want %d", s.outcome.ToolCalls, n)
	}
	return nil
}

func (s *agentScenario) thenMalformed(n int) error {
	if s.outcome.Malformed != n {
		return fmt.Errorf("malformed = %d, want %d", s.outcome.Malformed, n)
	}
	return nil
}

func (s *agentScenario) thenModelCalls(n int) error {
	if got := s.model.calls(); got != n {
		return fmt.Errorf("model calls = %d, want %d", got, n)
	}
	if s.outcome.Steps != n {
		return fmt.Errorf("steps = %d, want %d", s.outcome.Steps, n)
	}
	return nil
}

func (s *agentScenario) observation(n int) (comprice.StepTrace, error) {
	if n < 1 || n > len(s.outcome.Trace) {
		return comprice.StepTrace{}, fmt.Errorf("no observation %d; trace has %d", n, len(s.outcome.Trace))
	}
	return s.outcome.Trace[n-1], nil
}

func (s *agentScenario) thenObservationRows(n, rows int) error {
	st, err := s.observation(n)
	if err != nil {
		return err
	}
	if !st.Succeeded {
		return fmt.Errorf("observation %d failed: %s", n, st.Output)
	}
	// One header line, then one line per row.
	if got := len(strings.Split(st.Output, "\n")) - 1; got != rows {
		return fmt.Errorf("observation %d has %d rows, want %d:\n%s", n, got, rows, st.Output)
	}
	return nil
}

func (s *agentScenario) thenObservationContains(n int, text string) error {
	st, err := s.observation(n)
	if err != nil {
		return err
	}
	if !strings.Contains(st.Output, text) {
		return fmt.Errorf("observation %d = %q, want it to contain %q", n, st.Output, text)
	}
	return nil
}

func (s *agentScenario) thenObservationFailed(n int, text string) error {
	st, err := s.observation(n)
	if err != nil {
		return err
	}
	if st.Succeeded {
		return fmt.Errorf("observation %d succeeded: %s", n, st.Output)
	}
	return s.thenObservationContains(n, text)
}

// replayModel returns replies in order, then always (if set).
type replayModel struct {
	mu      sync.Mutex
	replies []comprice.ChatResponse
	always  *comprice.ChatResponse
	n       int
}

func (m *replayModel) Name() string { return "replay" }

func (m *replayModel) Chat(_ context.Context, _ comprice.ChatRequest) (comprice.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	if len(m.replies) > 0 {
		r := m.replies[0]
		m.replies = m.replies[1:]
		return r, nil
	}
	if m.always != nil {
		return *m.always, nil
	}
	return comprice.ChatResponse{}, fmt.Errorf("no scripted reply for call %d", m.n)
}

func (m *replayModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

// flakyStore fails its first query with a deadline error when failFirst is set.
type flakyStore struct {
	inner     comprice.StructuredStore
	failFirst bool
	queries   int
}

func (f *flakyStore) QueryDevices(ctx context.Context, q comprice.DeviceQuery) ([]comprice.Row, error) {
	f.queries++
	if f.failFirst && f.queries == 1 {
		return nil, &comprice.StoreError{Store: "sqlite", Op: "query devices", Err: context.DeadlineExceeded}
	}
	return f.inner.QueryDevices(ctx, q)
}
