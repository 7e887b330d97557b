package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse/notification-service/internal/domain/notification"
	"github.com/pulse/notification-service/internal/presence"
)

type fakeRegistry struct {
	instances []string
	listErr   error
	published []presence.RelayMessage
	pubErr    error
}

func (r *fakeRegistry) ListInstances(context.Context, string) ([]string, error) {
	return r.instances, r.listErr
}

func (r *fakeRegistry) Publish(_ context.Context, msg presence.RelayMessage) error {
	if r.pubErr != nil {
		return r.pubErr
	}
	r.published = append(r.published, msg)
	return nil
}

type fakePusher struct {
	pushed     []*notification.Notification
	hasSession bool
}

func (p *fakePusher) Push(_ context.Context, n *notification.Notification) bool {
	p.pushed = append(p.pushed, n)
	return p.hasSession
}

func testNotification(id string) *notification.Notification {
	return &notification.Notification{
		ID:            id,
		RecipientID:   "u1",
		Type:          notification.TypeLike,
		SourceEventID: "e-" + id,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestDispatch_LocalInstancePushesAndRelays(t *testing.T) {
	registry := &fakeRegistry{instances: []string{"inst-a", "inst-b"}}
	pusher := &fakePusher{hasSession: true}
	d := New(registry, pusher, "inst-a")

	d.Dispatch(context.Background(), testNotification("n1"))

	require.Len(t, pusher.pushed, 1)
	require.Len(t, registry.published, 1)
	assert.Equal(t, "inst-a", registry.published[0].Origin)
	assert.Equal(t, "n1", registry.published[0].Notification.ID)
}

func TestDispatch_RemoteOnlyRelaysWithoutLocalPush(t *testing.T) {
	registry := &fakeRegistry{instances: []string{"inst-b"}}
	pusher := &fakePusher{}
	d := New(registry, pusher, "inst-a")

	d.Dispatch(context.Background(), testNotification("n1"))

	assert.Empty(t, pusher.pushed)
	assert.Len(t, registry.published, 1)
}

func TestDispatch_OfflineRecipientLeavesBacklogOnly(t *testing.T) {
	registry := &fakeRegistry{}
	pusher := &fakePusher{}
	d := New(registry, pusher, "inst-a")

	d.Dispatch(context.Background(), testNotification("n1"))

	assert.Empty(t, pusher.pushed)
	assert.Empty(t, registry.published)
}

func TestDispatch_RegistryDownDegradesToLocal(t *testing.T) {
	registry := &fakeRegistry{listErr: errors.New("registry unavailable")}
	pusher := &fakePusher{hasSession: true}
	d := New(registry, pusher, "inst-a")

	d.Dispatch(context.Background(), testNotification("n1"))

	assert.Len(t, pusher.pushed, 1)
	assert.Empty(t, registry.published)
}

func TestRun_PushesRemoteBroadcasts(t *testing.T) {
	pusher := &fakePusher{hasSession: true}
	d := New(&fakeRegistry{}, pusher, "inst-a")

	ctx, cancel := context.WithCancel(context.Background())
	msgs := make(chan presence.RelayMessage, 2)
	msgs <- presence.RelayMessage{Origin: "inst-b", Notification: testNotification("n1")}
	close(msgs)

	d.Run(ctx, msgs)
	cancel()

	require.Len(t, pusher.pushed, 1)
	assert.Equal(t, "n1", pusher.pushed[0].ID)
}

func TestRun_SkipsOwnBroadcasts(t *testing.T) {
	pusher := &fakePusher{hasSession: true}
	d := New(&fakeRegistry{}, pusher, "inst-a")

	msgs := make(chan presence.RelayMessage, 1)
	msgs <- presence.RelayMessage{Origin: "inst-a", Notification: testNotification("n1")}
	close(msgs)

	d.Run(context.Background(), msgs)

	assert.Empty(t, pusher.pushed)
}
