package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ragserver/internal/graph"
	"ragserver/internal/store"
)

func TestDispatchReturnsSuccessEnvelope(t *testing.T) {
	d := New(time.Second, nil)
	env := d.Dispatch(context.Background(), "rag_query", nil, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.True(t, env.Success)
	require.Equal(t, "rag_query", env.Operation)
	require.NotEmpty(t, env.RequestID)
	require.Nil(t, env.Error)
	require.Equal(t, "ok", env.Result)
}

func TestDispatchRejectsInvalidInputWithoutRunningFn(t *testing.T) {
	d := New(time.Second, nil)
	ran := false
	env := d.Dispatch(context.Background(), "scrape_urls",
		func() error { return NewValidationError("url must not be empty") },
		func(ctx context.Context) (any, error) {
			ran = true
			return nil, nil
		})
	require.False(t, env.Success)
	require.False(t, ran)
	require.Equal(t, ErrInvalidInput, env.Error.Kind)
}

func TestDispatchGeneratesDistinctRequestIDs(t *testing.T) {
	d := New(time.Second, nil)
	env1 := d.Dispatch(context.Background(), "op", nil, func(ctx context.Context) (any, error) { return nil, nil })
	env2 := d.Dispatch(context.Background(), "op", nil, func(ctx context.Context) (any, error) { return nil, nil })
	require.NotEqual(t, env1.RequestID, env2.RequestID)
}

func TestDispatchAppliesOuterTimeoutAndClassifiesCancellation(t *testing.T) {
	d := New(10*time.Millisecond, nil)
	env := d.Dispatch(context.Background(), "slow_op", nil, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.False(t, env.Success)
	require.Equal(t, ErrCancelled, env.Error.Kind)
}

func TestDispatchUsesPerOperationTimeoutOverride(t *testing.T) {
	d := New(10*time.Millisecond, map[string]time.Duration{"bulk_op": 200 * time.Millisecond})
	env := d.Dispatch(context.Background(), "bulk_op", nil, func(ctx context.Context) (any, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return "finished", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	require.True(t, env.Success)
	require.Equal(t, "finished", env.Result)
}

func TestDispatchClassifiesUnexpectedErrorAsInternal(t *testing.T) {
	d := New(time.Second, nil)
	env := d.Dispatch(context.Background(), "op", nil, func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.False(t, env.Success)
	require.Equal(t, ErrInternal, env.Error.Kind)
}

func TestDispatchPropagatesTypedDispatchError(t *testing.T) {
	d := New(time.Second, nil)
	env := d.Dispatch(context.Background(), "op", nil, func(ctx context.Context) (any, error) {
		return nil, &Error{Kind: ErrGraphCleanupFailed, Message: "rollback ok"}
	})
	require.False(t, env.Success)
	require.Equal(t, ErrGraphCleanupFailed, env.Error.Kind)
}

func TestDispatchClassifiesGraphCleanupFailure(t *testing.T) {
	d := New(time.Second, nil)
	env := d.Dispatch(context.Background(), "parse_github_repository", nil, func(ctx context.Context) (any, error) {
		return nil, &graph.ErrCleanupFailed{Repo: "widgets", Err: errors.New("backend down")}
	})
	require.False(t, env.Success)
	require.Equal(t, ErrGraphCleanupFailed, env.Error.Kind)
}

func TestDispatchClassifiesGraphUnavailable(t *testing.T) {
	d := New(time.Second, nil)
	env := d.Dispatch(context.Background(), "query_knowledge_graph", nil, func(ctx context.Context) (any, error) {
		return nil, graph.ErrGraphUnavailable
	})
	require.False(t, env.Success)
	require.Equal(t, ErrGraphUnavailable, env.Error.Kind)
}

func TestDispatchClassifiesVectorStoreUnavailable(t *testing.T) {
	d := New(time.Second, nil)
	env := d.Dispatch(context.Background(), "rag_query", nil, func(ctx context.Context) (any, error) {
		return nil, &store.ErrUnavailable{Collection: "crawled_pages"}
	})
	require.False(t, env.Success)
	require.Equal(t, ErrVectorStoreUnavail, env.Error.Kind)
}

func TestValidateURLRejectsNonHTTPScheme(t *testing.T) {
	require.Error(t, ValidateURL("ftp://example.test/file"))
	require.NoError(t, ValidateURL("https://example.test/file"))
}

func TestValidateURLListRejectsEmptyList(t *testing.T) {
	require.Error(t, ValidateURLList(nil))
	require.NoError(t, ValidateURLList([]string{"https://example.test"}))
}

func TestValidatePositiveIntRejectsZeroAndNegative(t *testing.T) {
	require.Error(t, ValidatePositiveInt(0, "match_count"))
	require.Error(t, ValidatePositiveInt(-1, "match_count"))
	require.NoError(t, ValidatePositiveInt(1, "match_count"))
}
