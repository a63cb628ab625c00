package engine

import (
	"context"

	"github.com/rendis/formflow/pkg/schema"
)

// QueryRequest lists the responses of a form. When Query is set it is a jq
// program run over each response's answers, with the response's
// pseudo-variables bound as $response_id, $form_id, $submitted_at and
// $submitter.
type QueryRequest struct {
	FormID         string `json:"form_id"`
	VersionLabel   string `json:"version_label,omitempty"`
	Submitter      string `json:"submitter,omitempty"`
	Query          string `json:"query,omitempty"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// QueryRow is one listed response and, when a query ran, its result.
type QueryRow struct {
	ResponseID   string            `json:"response_id"`
	VersionLabel string            `json:"version_label"`
	Answers      schema.AnswerTree `json:"answers,omitempty"`
	Result       any               `json:"result,omitempty"`
}

// QueryResponses lists a form's responses, optionally projecting each one
// through a jq query. A query that fails on one response fails the call.
func (e *Engine) QueryResponses(ctx context.Context, req QueryRequest) ([]QueryRow, error) {
	if _, err := e.forms.GetForm(ctx, req.FormID); err != nil {
		return nil, err
	}
	responses, err := e.responses.ListResponses(ctx, schema.ResponseFilter{
		FormID:         req.FormID,
		VersionLabel:   req.VersionLabel,
		Submitter:      req.Submitter,
		IncludeDeleted: req.IncludeDeleted,
		Limit:          req.Limit,
	})
	if err != nil {
		return nil, err
	}

	rows := make([]QueryRow, 0, len(responses))
	for _, resp := range responses {
		row := QueryRow{ResponseID: resp.ID, VersionLabel: resp.VersionLabel}
		if req.Query == "" {
			row.Answers = resp.Answers
			rows = append(rows, row)
			continue
		}
		pseudo, err := e.resolvePseudo(ctx, resp)
		if err != nil {
			return nil, err
		}
		row.Result, err = e.jq.Query(ctx, req.Query, resp.Answers, pseudo)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
