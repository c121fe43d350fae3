package progress

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passport-sync-service/internal/models"
)

func newRelayPair(t *testing.T) (*Hub, *Hub, context.CancelFunc) {
	t.Helper()
	mr := miniredis.RunT(t)

	newInstance := func() (*Hub, *RedisRelay) {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		hub := NewHub(testLogger())
		return hub, NewRedisRelay(client, hub, testLogger())
	}

	hubA, relayA := newInstance()
	hubB, relayB := newInstance()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = relayA.Run(ctx) }()
	go func() { _ = relayB.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels(RelayChannel)) == 1 && mr.PubSubNumSub(RelayChannel)[RelayChannel] == 2
	}, 2*time.Second, 10*time.Millisecond)

	return hubA, hubB, cancel
}

func TestRedisRelay_DeliversAcrossInstances(t *testing.T) {
	hubA, hubB, cancel := newRelayPair(t)
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	subA := hubA.Subscribe(ctx, "brand-a", nil)
	subB := hubB.Subscribe(ctx, "brand-a", nil)

	total := 50
	hubA.Publish(Event{
		JobID:             uuid.New(),
		BrandID:           "brand-a",
		Status:            models.SyncStatusRunning,
		ProductsProcessed: 10,
		ProductsTotal:     &total,
	})

	local := receive(t, subA)
	remote := receive(t, subB)
	assert.Equal(t, local.JobID, remote.JobID)
	assert.Equal(t, 10, remote.ProductsProcessed)
	require.NotNil(t, remote.ProductsTotal)
	assert.Equal(t, 50, *remote.ProductsTotal)

	// The origin instance ignores its own echo
	assertNoEvent(t, subA)
}

func TestRedisRelay_IgnoresMalformedAndOwnMessages(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	defer client.Close()

	hub := NewHub(testLogger())
	relay := NewRedisRelay(client, hub, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := hub.Subscribe(ctx, "brand-a", nil)

	relay.receive("{not json")

	own, _ := json.Marshal(envelope{Origin: relay.Origin(), Event: Event{JobID: uuid.New(), BrandID: "brand-a"}})
	relay.receive(string(own))
	assertNoEvent(t, sub)

	foreign, _ := json.Marshal(envelope{Origin: "other", Event: Event{JobID: uuid.New(), BrandID: "brand-a", Status: models.SyncStatusRunning}})
	relay.receive(string(foreign))
	assert.Equal(t, "brand-a", receive(t, sub).BrandID)
}
