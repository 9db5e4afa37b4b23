package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/capability-registry/internal/registry"
)

func newFakeClient(t *testing.T) *pubsub.Client {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublishDeliversJSONWithEventAttribute(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := newFakeClient(t)
	topic, err := client.CreateTopic(ctx, "registry-updated")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub, err := New(client, "registry-updated")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(ctx, registry.TopicRegistryUpdated, registry.RegistryEvent{
		Event:   registry.TopicRegistryUpdated,
		Domain:  "acme.com",
		CrawlID: "c_1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	received := make(chan *pubsub.Message, 1)
	recvCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			select {
			case received <- msg:
			default:
			}
		})
	}()

	select {
	case msg := <-received:
		require.Equal(t, registry.TopicRegistryUpdated, msg.Attributes[EventAttribute])
		var event registry.RegistryEvent
		require.NoError(t, json.Unmarshal(msg.Data, &event))
		require.Equal(t, "acme.com", event.Domain)
		require.Equal(t, "c_1", event.CrawlID)
	case <-ctx.Done():
		t.Fatal("message was not delivered")
	}
}

func TestNewValidatesInput(t *testing.T) {
	_, err := New(nil, "topic")
	require.Error(t, err)

	_, err = New(newFakeClient(t), "")
	require.Error(t, err)
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	pub, err := New(newFakeClient(t), "t")
	require.NoError(t, err)

	_, err = pub.Publish(context.Background(), "x", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}
