package engine

import (
	"context"
	"log/slog"

	"github.com/rendis/formflow/internal/expressions"
	"github.com/rendis/formflow/internal/logging"
	"github.com/rendis/formflow/internal/sanitize"
	"github.com/rendis/formflow/internal/validation"
	"github.com/rendis/formflow/internal/visibility"
	"github.com/rendis/formflow/pkg/schema"
)

// Evaluation is the outcome of running raw answers through the pipeline.
// Answers is the sanitized tree and is only meaningful when Report is valid.
type Evaluation struct {
	Answers    schema.AnswerTree         `json:"answers"`
	Visibility *visibility.VisibilitySet `json:"visibility"`
	Report     *schema.ValidationReport  `json:"report"`
}

// Valid reports whether the answers passed validation.
func (ev *Evaluation) Valid() bool {
	return ev.Report.Valid()
}

// Pipeline runs the storage-free part of a submission:
// markup cleaning, visibility, computed fields, validation and sanitization.
type Pipeline struct {
	visibility *visibility.Resolver
	validator  *validation.Engine
	logger     *slog.Logger
}

// NewPipeline creates a Pipeline on the given evaluator.
func NewPipeline(eval *expressions.Evaluator, logger *slog.Logger) (*Pipeline, error) {
	jsv, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return newPipeline(eval, jsv, logging.OrDefault(logger)), nil
}

func newPipeline(eval *expressions.Evaluator, jsv *validation.JSONSchemaValidator, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		visibility: visibility.NewResolver(eval, logger),
		validator:  validation.NewEngine(eval, jsv, logger),
		logger:     logger,
	}
}

// Run evaluates raw answers against version. Computed fields are
// recomputed and visibility is resolved on the computed tree, so
// computation, validation and sanitization all see the same set.
func (p *Pipeline) Run(ctx context.Context, version *schema.FormVersion, raw schema.AnswerTree, pseudo map[string]any) *Evaluation {
	cleaned := sanitize.CleanMarkup(version, raw)
	vis, computed, report := p.settle(ctx, version, cleaned, pseudo)

	report.Merge(p.validator.Validate(ctx, version, computed, vis, pseudo))
	report.Warnings = append(report.Warnings, vis.Warnings...)

	if !report.Valid() {
		p.logger.InfoContext(ctx, "submission rejected",
			slog.Int("errors", len(report.Errors)),
			slog.String("version", version.Label))
	}

	return &Evaluation{
		Answers:    sanitize.Sanitize(computed, vis),
		Visibility: vis,
		Report:     report,
	}
}

// settle alternates computation and visibility until the visible set stops
// changing, at most once per computed field plus one. A tree that still
// moves after that is rejected.
func (p *Pipeline) settle(ctx context.Context, version *schema.FormVersion, cleaned schema.AnswerTree, pseudo map[string]any) (*visibility.VisibilitySet, schema.AnswerTree, *schema.ValidationReport) {
	vis := p.visibility.Resolve(ctx, version, cleaned, pseudo)
	rounds := computedCount(version) + 1

	for i := 0; ; i++ {
		computed, report := p.validator.ComputeFields(ctx, version, cleaned, vis, pseudo)
		next := p.visibility.Resolve(ctx, version, computed, pseudo)
		if next.Equal(vis) {
			return next, computed, report
		}
		if i >= rounds {
			p.logger.WarnContext(ctx, "computed fields did not settle",
				slog.String("version", version.Label),
				slog.Int("rounds", i+1))
			report.AddGlobalError(schema.ErrCodeCycleDetected, "computed fields and visibility do not settle")
			return next, computed, report
		}
		vis = next
	}
}

func computedCount(version *schema.FormVersion) int {
	n := 0
	for _, sec := range version.Sections {
		for _, q := range sec.Questions {
			if q.FieldType.IsComputed() && q.CustomScript != "" {
				n++
			}
		}
	}
	return n
}
