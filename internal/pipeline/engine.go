package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/docpilot/internal/capture"
)

// Stage is one step of the pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, pc *Context) error
}

// Engine runs stages strictly in order.
type Engine struct {
	stages   []Stage
	recorder *capture.Recorder
}

// NewEngine returns an engine over stages. recorder may be nil.
func NewEngine(recorder *capture.Recorder, stages ...Stage) *Engine {
	return &Engine{stages: stages, recorder: recorder}
}

// Stages lists the stage names in execution order.
func (e *Engine) Stages() []string {
	names := make([]string, len(e.stages))
	for i, s := range e.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes every stage. The first stage error aborts the run; whatever
// earlier stages persisted stays persisted.
func (e *Engine) Run(ctx context.Context, pc *Context) error {
	ctx = pc.Logger.WithContext(ctx)
	for _, stage := range e.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := stage.Name()

		pc.mu.Lock()
		pc.current = &StageMetric{Name: name}
		pc.mu.Unlock()

		start := time.Now()
		err := stage.Run(ctx, pc)
		elapsed := time.Since(start)

		pc.mu.Lock()
		metric := *pc.current
		pc.current = nil
		pc.mu.Unlock()
		metric.Duration = elapsed

		outcome := "ok"
		if err != nil {
			outcome = "error"
			metric.Error = err.Error()
		}
		stageDuration.WithLabelValues(name, outcome).Observe(elapsed.Seconds())
		pc.Metrics = append(pc.Metrics, metric)
		e.recorder.WriteJSON(pc.BatchID, name, metric)

		pc.Logger.Info().
			Str("stage", name).
			Dur("duration", elapsed).
			Int("in", metric.InputCount).
			Int("out", metric.OutputCount).
			Int("prompts", len(metric.Prompts)).
			Msg("Stage finished")

		if err != nil {
			err = fmt.Errorf("stage %s: %w", name, err)
			pc.Errors = append(pc.Errors, err)
			pc.Logger.Error().Err(err).Msg("Pipeline aborted")
			return err
		}
	}
	return nil
}
