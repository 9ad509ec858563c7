// Package agents runs configurable agents at fixed pipeline points.
// Pre-search and post-search agents run sequentially by ascending priority;
// response agents run in parallel under a shared deadline. Agent failures
// are recorded but never fail the pipeline.
package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/manavgup/rag-modulo/pkg/config"
	"github.com/manavgup/rag-modulo/pkg/models"
)

// DefaultResponseDeadline bounds the parallel response-agent fan-out.
const DefaultResponseDeadline = 20 * time.Second

// Agent is one unit of pipeline augmentation. Run mutates the search
// context; a returned error marks the run failed without aborting the
// request.
type Agent interface {
	Name() string
	Run(ctx context.Context, sc *models.SearchContext) error
}

// registered pairs an agent with its configuration.
type registered struct {
	agent      Agent
	definition config.AgentDefinition
}

// Executor dispatches agents by stage.
type Executor struct {
	byStage          map[config.AgentStage][]registered
	responseDeadline time.Duration
	logger           *slog.Logger
}

// NewExecutor builds an Executor from agent definitions and a factory that
// resolves each definition to an implementation. Disabled definitions are
// skipped; unresolvable ones are errors.
func NewExecutor(definitions []config.AgentDefinition, factory func(config.AgentDefinition) (Agent, error)) (*Executor, error) {
	e := &Executor{
		byStage:          make(map[config.AgentStage][]registered),
		responseDeadline: DefaultResponseDeadline,
		logger:           slog.Default(),
	}
	for _, def := range definitions {
		if !def.Enabled {
			continue
		}
		agent, err := factory(def)
		if err != nil {
			return nil, fmt.Errorf("failed to build agent %q: %w", def.Name, err)
		}
		e.byStage[def.Stage] = append(e.byStage[def.Stage], registered{agent: agent, definition: def})
	}
	for stage := range e.byStage {
		regs := e.byStage[stage]
		sort.SliceStable(regs, func(i, j int) bool {
			return regs[i].definition.Priority < regs[j].definition.Priority
		})
	}
	return e, nil
}

// HasAgents reports whether any enabled agent is bound to the stage.
func (e *Executor) HasAgents(stage config.AgentStage) bool {
	return len(e.byStage[stage]) > 0
}

// RunStage executes the agents bound to stage and appends their run records
// to the context's summary. It never returns an error: per-agent failures
// are captured in the records.
func (e *Executor) RunStage(ctx context.Context, stage config.AgentStage, sc *models.SearchContext) {
	regs := e.byStage[stage]
	if len(regs) == 0 {
		return
	}

	var records []models.AgentRunRecord
	if stage == config.AgentStageResponse {
		records = e.runParallel(ctx, regs, sc)
	} else {
		records = e.runSequential(ctx, regs, sc)
	}

	for _, record := range records {
		sc.AgentSummary.Runs = append(sc.AgentSummary.Runs, record)
		switch record.Status {
		case models.AgentRunSuccess:
			sc.AgentSummary.Succeeded++
		case models.AgentRunSkipped:
			sc.AgentSummary.Skipped++
		default:
			sc.AgentSummary.Failed++
		}
	}
}

func (e *Executor) runSequential(ctx context.Context, regs []registered, sc *models.SearchContext) []models.AgentRunRecord {
	records := make([]models.AgentRunRecord, 0, len(regs))
	for _, reg := range regs {
		if ctx.Err() != nil {
			records = append(records, models.AgentRunRecord{
				AgentName: reg.agent.Name(),
				Stage:     string(reg.definition.Stage),
				Status:    models.AgentRunSkipped,
				Error:     ctx.Err().Error(),
			})
			continue
		}
		records = append(records, e.runOne(ctx, reg, sc))
	}
	return records
}

// runParallel fans out response agents under the shared deadline. Records
// land in input order.
func (e *Executor) runParallel(ctx context.Context, regs []registered, sc *models.SearchContext) []models.AgentRunRecord {
	runCtx, cancel := context.WithTimeout(ctx, e.responseDeadline)
	defer cancel()

	records := make([]models.AgentRunRecord, len(regs))
	g, gctx := errgroup.WithContext(runCtx)
	for i, reg := range regs {
		g.Go(func() error {
			records[i] = e.runOne(gctx, reg, sc)
			return nil
		})
	}
	_ = g.Wait()
	return records
}

func (e *Executor) runOne(ctx context.Context, reg registered, sc *models.SearchContext) models.AgentRunRecord {
	start := time.Now()
	err := reg.agent.Run(ctx, sc)
	record := models.AgentRunRecord{
		AgentName:       reg.agent.Name(),
		Stage:           string(reg.definition.Stage),
		Status:          models.AgentRunSuccess,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		record.Status = models.AgentRunFailed
		if errors.Is(err, context.DeadlineExceeded) {
			record.Status = models.AgentRunTimeout
		}
		record.Error = err.Error()
		e.logger.Warn("Agent run failed",
			"agent", reg.agent.Name(), "stage", reg.definition.Stage, "error", err)
	}
	return record
}
