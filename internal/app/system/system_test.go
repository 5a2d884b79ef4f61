package system

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/token_engine/internal/logging"
)

type fakeService struct {
	name     string
	startErr error
	events   *[]string
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(context.Context) error {
	*f.events = append(*f.events, "start:"+f.name)
	return f.startErr
}

func (f *fakeService) Stop(context.Context) error {
	*f.events = append(*f.events, "stop:"+f.name)
	return nil
}

func TestManager_StartStopOrder(t *testing.T) {
	var events []string
	m := NewManager(logging.NewDiscard())
	require.NoError(t, m.Register(&fakeService{name: "a", events: &events}))
	require.NoError(t, m.Register(&fakeService{name: "b", events: &events}))
	assert.Error(t, m.Register(&fakeService{name: "a", events: &events}))

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateRunning, m.State())
	assert.Error(t, m.Register(&fakeService{name: "c", events: &events}))

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, StateStopped, m.State())
	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, events)
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	var events []string
	m := NewManager(logging.NewDiscard())
	require.NoError(t, m.Register(&fakeService{name: "a", events: &events}))
	require.NoError(t, m.Register(&fakeService{name: "b", startErr: errors.New("boom"), events: &events}))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b")
	assert.Equal(t, []string{"start:a", "start:b", "stop:a"}, events)
	assert.Equal(t, StateStopped, m.State())
}

func TestMaintenance_RunOnce(t *testing.T) {
	var ran []string
	m, err := NewMaintenance("@hourly", logging.NewDiscard(),
		Job{Name: "test_prune", Run: func(context.Context) error { ran = append(ran, "prune"); return errors.New("db down") }},
		Job{Name: "test_sweep", Run: func(context.Context) error { ran = append(ran, "sweep"); return nil }},
	)
	require.NoError(t, err)

	m.RunOnce(context.Background())
	assert.Equal(t, []string{"prune", "sweep"}, ran)
}

func TestMaintenance_Lifecycle(t *testing.T) {
	_, err := NewMaintenance("not a schedule", logging.NewDiscard())
	assert.Error(t, err)

	m, err := NewMaintenance("*/5 * * * *", logging.NewDiscard())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
}
