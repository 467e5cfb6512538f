package asr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	name string
	err  error
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) Transcribe(ctx context.Context, req Request) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.name + ":" + req.Model, nil
}

func creatorFor(c Client) ServiceCreator {
	return func() (Client, error) { return c, nil }
}

func TestSelectorResolveByName(t *testing.T) {
	selector := NewASRSelector()
	selector.RegisterService("openai", creatorFor(&stubClient{name: "openai"}), 100)
	selector.RegisterService("whisper", creatorFor(&stubClient{name: "whisper"}), 50)

	client, err := selector.Resolve(context.Background(), "whisper")
	require.NoError(t, err)
	assert.Equal(t, "whisper", client.Name())

	_, err = selector.Resolve(context.Background(), "bcut")
	assert.True(t, errors.Is(err, ErrNoService))
}

func TestSelectorAutoPicksHighestWeight(t *testing.T) {
	selector := NewASRSelector()
	selector.RegisterService("whisper", creatorFor(&stubClient{name: "whisper"}), 50)
	selector.RegisterService("openai", creatorFor(&stubClient{name: "openai"}), 100)

	client, err := selector.Resolve(context.Background(), AutoService)
	require.NoError(t, err)
	assert.Equal(t, "openai", client.Name())

	empty := NewASRSelector()
	_, err = empty.Resolve(context.Background(), AutoService)
	assert.True(t, errors.Is(err, ErrNoService))
}

func TestSelectorCreatorError(t *testing.T) {
	selector := NewASRSelector()
	selector.RegisterService("openai", func() (Client, error) {
		return nil, ErrMissingCredentials
	}, 100)

	_, err := selector.Resolve(context.Background(), "openai")
	assert.True(t, errors.Is(err, ErrMissingCredentials))
}

func TestSelectorReportsResults(t *testing.T) {
	selector := NewASRSelector()
	failing := &stubClient{name: "openai", err: errors.New("boom")}
	selector.RegisterService("openai", creatorFor(failing), 100)
	selector.RegisterService("whisper", creatorFor(&stubClient{name: "whisper"}), 10)

	client, err := selector.Resolve(context.Background(), "openai")
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err := client.Transcribe(context.Background(), Request{Model: "m"})
		assert.Error(t, err)
	}

	stats := selector.GetStats()
	assert.Equal(t, 6, stats["openai"]["calls"])
	assert.Equal(t, "0.0%", stats["openai"]["success_rate"])
	assert.Equal(t, false, stats["openai"]["available"])

	// 低成功率的服务被跳过
	auto, err := selector.Resolve(context.Background(), AutoService)
	require.NoError(t, err)
	assert.Equal(t, "whisper", auto.Name())

	// 一次成功后恢复
	selector.ReportResult("openai", true)
	assert.Equal(t, true, selector.GetStats()["openai"]["available"])
}

// availabilityStub 可以控制是否可达
type availabilityStub struct {
	stubClient
	reachable bool
}

func (a *availabilityStub) IsAvailable(ctx context.Context) bool { return a.reachable }

func TestSelectorAutoSkipsFailingCreator(t *testing.T) {
	selector := NewASRSelector()
	selector.RegisterService("openai", func() (Client, error) {
		return nil, fmt.Errorf("%w: 未设置 OPENAI_API_KEY", ErrMissingCredentials)
	}, 30)
	selector.RegisterService("whisper", creatorFor(&stubClient{name: "whisper"}), 10)

	client, err := selector.Resolve(context.Background(), AutoService)
	require.NoError(t, err)
	assert.Equal(t, "whisper", client.Name())
	assert.Equal(t, 0, selector.GetStats()["openai"]["count"])
	assert.Equal(t, 1, selector.GetStats()["whisper"]["count"])

	// 指定服务时不回退
	_, err = selector.Resolve(context.Background(), "openai")
	assert.True(t, errors.Is(err, ErrMissingCredentials))
}

func TestSelectorAutoSkipsUnreachable(t *testing.T) {
	selector := NewASRSelector()
	selector.RegisterService("whisper", creatorFor(&availabilityStub{stubClient: stubClient{name: "whisper"}}), 30)
	selector.RegisterService("openai", creatorFor(&stubClient{name: "openai"}), 10)

	client, err := selector.Resolve(context.Background(), AutoService)
	require.NoError(t, err)
	assert.Equal(t, "openai", client.Name())
}

func TestSelectorAutoAllFail(t *testing.T) {
	selector := NewASRSelector()
	selector.RegisterService("openai", func() (Client, error) { return nil, ErrMissingCredentials }, 30)
	selector.RegisterService("whisper", creatorFor(&availabilityStub{stubClient: stubClient{name: "whisper"}}), 10)

	_, err := selector.Resolve(context.Background(), AutoService)
	assert.True(t, errors.Is(err, ErrNoService))
	assert.True(t, errors.Is(err, ErrMissingCredentials))
}

func TestSelectorRoundRobin(t *testing.T) {
	selector := NewASRSelector()
	selector.SetStrategy(StrategyRoundRobin)
	selector.RegisterService("a", creatorFor(&stubClient{name: "a"}), 1)
	selector.RegisterService("b", creatorFor(&stubClient{name: "b"}), 1)

	var names []string
	for i := 0; i < 3; i++ {
		client, err := selector.Resolve(context.Background(), AutoService)
		require.NoError(t, err)
		names = append(names, client.Name())
	}
	assert.Equal(t, []string{"a", "b", "a"}, names)
}

func TestSelectorWeightedRandom(t *testing.T) {
	selector := NewASRSelector()
	selector.SetStrategy(StrategyWeightedRandom)
	selector.RegisterService("a", creatorFor(&stubClient{name: "a"}), 1)
	selector.RegisterService("b", creatorFor(&stubClient{name: "b"}), 1)
	selector.RegisterService("zero", creatorFor(&stubClient{name: "zero"}), 0)

	for i := 0; i < 20; i++ {
		client, err := selector.Resolve(context.Background(), AutoService)
		require.NoError(t, err)
		assert.Contains(t, []string{"a", "b"}, client.Name())
	}

	// 首选失败时仍会尝试其余服务
	only := NewASRSelector()
	only.SetStrategy(StrategyWeightedRandom)
	only.RegisterService("broken", func() (Client, error) { return nil, errors.New("boom") }, 5)
	only.RegisterService("zero", creatorFor(&stubClient{name: "zero"}), 0)
	client, err := only.Resolve(context.Background(), AutoService)
	require.NoError(t, err)
	assert.Equal(t, "zero", client.Name())
}

func TestSelectorCheckDoesNotCount(t *testing.T) {
	selector := NewASRSelector()
	selector.RegisterService("whisper", creatorFor(&stubClient{name: "whisper"}), 10)
	selector.RegisterService("openai", func() (Client, error) { return nil, ErrMissingCredentials }, 30)

	require.NoError(t, selector.Check(context.Background(), AutoService))
	assert.Equal(t, 0, selector.GetStats()["whisper"]["count"])

	assert.True(t, errors.Is(selector.Check(context.Background(), "openai"), ErrMissingCredentials))
}
