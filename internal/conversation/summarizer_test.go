package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"legal-agent/internal/domain"
)

// scriptedCompleter returns one response per call, in order.
type scriptedCompleter struct {
	responses []string
	errs      []error
	calls     int
	systems   []string
}

func (s *scriptedCompleter) Complete(_ context.Context, system, _ string) (string, error) {
	idx := s.calls
	s.calls++
	s.systems = append(s.systems, system)
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	var resp string
	if idx < len(s.responses) {
		resp = s.responses[idx]
	}
	return resp, err
}

var sampleHistory = []domain.ChatMessage{
	{Role: domain.RoleUser, Content: "Can my landlord evict me without notice?"},
	{Role: domain.RoleAssistant, Content: "Generally no; notice requirements apply."},
}

func TestRegenerate_StructuredPath(t *testing.T) {
	llm := &scriptedCompleter{responses: []string{
		`{"topics":["eviction"],"concepts":["notice"],"decisions":[],"laws":["Housing Act"],"flow":"single question"}`,
		`{"summary":"The user asked about eviction notice requirements.","key_points":["notice is required","Housing Act applies"]}`,
	}}
	s := NewSummarizer(llm, 5, nil)

	res, err := s.Regenerate(context.Background(), sampleHistory)
	require.NoError(t, err)
	require.Equal(t, "The user asked about eviction notice requirements.", res.Summary)
	require.Equal(t, []string{"notice is required", "Housing Act applies"}, res.KeyPoints)
	require.NotNil(t, res.Analysis)
	require.Equal(t, []string{"eviction"}, res.Analysis.Topics)
	require.Equal(t, 2, llm.calls)
}

func TestRegenerate_StructuredPathTrimsKeyPointsToCap(t *testing.T) {
	llm := &scriptedCompleter{responses: []string{
		`{"topics":[],"concepts":[],"decisions":[],"laws":[],"flow":""}`,
		`{"summary":"s","key_points":["1","2","3","4","5","6","7"]}`,
	}}
	s := NewSummarizer(llm, 5, nil)

	res, err := s.Regenerate(context.Background(), sampleHistory)
	require.NoError(t, err)
	require.Len(t, res.KeyPoints, 5)
}

func TestRegenerate_FallsBackToSimpleCall(t *testing.T) {
	llm := &scriptedCompleter{
		responses: []string{
			"not json at all",
			"The user asked about eviction.\n- notice required\n- see Housing Act",
		},
	}
	s := NewSummarizer(llm, 5, nil)

	res, err := s.Regenerate(context.Background(), sampleHistory)
	require.NoError(t, err)
	require.Equal(t, "The user asked about eviction.", res.Summary)
	require.Equal(t, []string{"notice required", "see Housing Act"}, res.KeyPoints)
	require.Nil(t, res.Analysis)
}

func TestRegenerate_FallbackFailureReturnsError(t *testing.T) {
	down := errors.New("service down")
	llm := &scriptedCompleter{errs: []error{down, down}}
	s := NewSummarizer(llm, 5, nil)

	_, err := s.Regenerate(context.Background(), sampleHistory)
	require.Error(t, err)
}

func TestRegenerate_EmptyHistory(t *testing.T) {
	s := NewSummarizer(&scriptedCompleter{}, 5, nil)
	_, err := s.Regenerate(context.Background(), nil)
	require.Error(t, err)
}

func TestRegenerate_StripsCodeFences(t *testing.T) {
	llm := &scriptedCompleter{responses: []string{
		"```json\n{\"topics\":[\"a\"],\"concepts\":[],\"decisions\":[],\"laws\":[],\"flow\":\"f\"}\n```",
		"```json\n{\"summary\":\"fenced summary\",\"key_points\":[]}\n```",
	}}
	s := NewSummarizer(llm, 5, nil)

	res, err := s.Regenerate(context.Background(), sampleHistory)
	require.NoError(t, err)
	require.Equal(t, "fenced summary", res.Summary)
}
