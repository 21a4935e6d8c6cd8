package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/CUXIDUMDUM/qpid/amqperror"
	"github.com/CUXIDUMDUM/qpid/framing"
	"github.com/CUXIDUMDUM/qpid/topology"
)

type responseRecorder struct {
	mu     sync.Mutex
	frames []framing.ResponseFrame
}

func (r *responseRecorder) WriteFrame(frame framing.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame.(framing.ResponseFrame))
	return nil
}

func (r *responseRecorder) last(t *testing.T) framing.ResponseFrame {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.frames)
	return r.frames[len(r.frames)-1]
}

type failingStore struct {
	mock.Mock
}

func (s *failingStore) CreateExchange(ctx context.Context, e *topology.Exchange) error {
	return s.Called(ctx, e).Error(0)
}

func (s *failingStore) CreateQueue(ctx context.Context, q *topology.Queue, args amqp.Table) error {
	return s.Called(ctx, q, args).Error(0)
}

func newChannel(options ...topology.VirtualHostOption) (*Channel, *topology.VirtualHost, *responseRecorder) {
	vh := topology.NewVirtualHost("test", options...)
	w := &responseRecorder{}
	return NewChannel(1, vh, w, WithClientID("client-1")), vh, w
}

func request(id uint64, method framing.Method) framing.RequestFrame {
	return framing.RequestFrame{Channel: 1, RequestID: id, Method: method}
}

func TestChannel_Declares(t *testing.T) {
	ctx := context.Background()

	t.Run("exchange declare is answered", func(t *testing.T) {
		ch, vh, w := newChannel()
		err := ch.HandleRequest(ctx, request(1, framing.ExchangeDeclare{Exchange: "orders", Type: "topic", Durable: true}))
		require.NoError(t, err)

		resp := w.last(t)
		assert.Equal(t, uint64(1), resp.ResponseID)
		assert.Equal(t, uint64(1), resp.RequestID)
		assert.Equal(t, framing.ExchangeDeclareOk{}, resp.Method)

		ex, ok := vh.GetExchange("orders")
		require.True(t, ok)
		assert.True(t, ex.Durable)
	})

	t.Run("queue declare reports the generated name", func(t *testing.T) {
		ch, vh, w := newChannel()
		require.NoError(t, ch.HandleRequest(ctx, request(1, framing.QueueDeclare{})))

		ok, isOk := w.last(t).Method.(framing.QueueDeclareOk)
		require.True(t, isOk)
		assert.True(t, strings.HasPrefix(ok.Queue, "tmp_"))
		_, found := vh.GetQueue(ok.Queue)
		assert.True(t, found)
	})

	t.Run("exclusive queues are owned by the client", func(t *testing.T) {
		ch, vh, _ := newChannel()
		require.NoError(t, ch.HandleRequest(ctx, request(1, framing.QueueDeclare{Queue: "mine", Exclusive: true})))
		require.NoError(t, ch.HandleRequest(ctx, request(2, framing.QueueDeclare{Queue: "shared"})))

		mine, _ := vh.GetQueue("mine")
		assert.Equal(t, "client-1", mine.Owner)
		shared, _ := vh.GetQueue("shared")
		assert.Empty(t, shared.Owner)
	})

	t.Run("queue declare carries arguments to the registry", func(t *testing.T) {
		ch, vh, _ := newChannel()
		require.NoError(t, ch.HandleRequest(ctx, request(1, framing.QueueDeclare{
			Queue:     "prices",
			Arguments: amqp.Table{topology.ArgLastValueQueueKey: "sku"},
		})))

		q, _ := vh.GetQueue("prices")
		assert.Equal(t, topology.Variant{Kind: topology.VariantConflation, ConflationKey: "sku"}, q.Variant)
	})

	t.Run("bind is answered", func(t *testing.T) {
		ch, vh, w := newChannel()
		require.NoError(t, ch.HandleRequest(ctx, request(1, framing.QueueDeclare{Queue: "invoices"})))
		require.NoError(t, ch.HandleRequest(ctx, request(2, framing.QueueBind{Queue: "invoices", Exchange: "amq.direct", RoutingKey: "inv"})))

		assert.Equal(t, framing.QueueBindOk{}, w.last(t).Method)
		direct, _ := vh.GetExchange("amq.direct")
		assert.True(t, direct.IsBound("inv", "invoices"))
	})

	t.Run("no-wait requests are not answered", func(t *testing.T) {
		ch, vh, w := newChannel()
		require.NoError(t, ch.HandleRequest(ctx, request(1, framing.ExchangeDeclare{Exchange: "orders", Type: "direct", NoWait: true})))
		require.NoError(t, ch.HandleRequest(ctx, request(2, framing.QueueDeclare{Queue: "q", NoWait: true})))

		assert.Empty(t, w.frames)
		assert.Empty(t, ch.Responses().Unanswered())
		_, ok := vh.GetExchange("orders")
		assert.True(t, ok)
	})

	t.Run("a batch of requests gets sequential response ids", func(t *testing.T) {
		ch, _, w := newChannel()
		for id := uint64(1); id <= 3; id++ {
			require.NoError(t, ch.HandleRequest(ctx, request(id, framing.QueueDeclare{Queue: "q"})))
		}
		require.Len(t, w.frames, 3)
		for i, f := range w.frames {
			assert.Equal(t, uint64(i+1), f.ResponseID)
			assert.Equal(t, uint64(i+1), f.RequestID)
		}
	})
}

func TestChannel_Errors(t *testing.T) {
	ctx := context.Background()

	tt := []struct {
		Name       string
		Setup      func(t *testing.T, ch *Channel)
		Method     framing.Method
		Connection bool
		Code       uint16
		Err        error
	}{
		{
			Name:   "passive declare of an absent queue closes the channel",
			Method: framing.QueueDeclare{Queue: "absent", Passive: true},
			Code:   amqp.NotFound,
			Err:    amqperror.ErrNotFound,
		},
		{
			Name:   "binding to an absent exchange closes the channel",
			Method: framing.QueueBind{Queue: "", Exchange: "nowhere"},
			Code:   amqp.NotFound,
			Err:    amqperror.ErrNotFound,
		},
		{
			Name:       "unknown exchange types close the connection",
			Method:     framing.ExchangeDeclare{Exchange: "x", Type: "x-consistent-hash"},
			Connection: true,
			Code:       amqp.CommandInvalid,
			Err:        amqperror.ErrUnknownExchangeType,
		},
		{
			Name: "a type conflict closes the connection",
			Setup: func(t *testing.T, ch *Channel) {
				require.NoError(t, ch.HandleRequest(ctx, request(1, framing.ExchangeDeclare{Exchange: "orders", Type: "topic"})))
			},
			Method:     framing.ExchangeDeclare{Exchange: "orders", Type: "fanout"},
			Connection: true,
			Code:       amqp.NotAllowed,
			Err:        amqperror.ErrTypeConflict,
		},
		{
			Name:       "unsupported methods close the connection",
			Method:     framing.ChannelClose{},
			Connection: true,
			Code:       amqp.NotImplemented,
			Err:        ErrNotImplemented,
		},
	}

	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			ch, _, w := newChannel()
			if tc.Setup != nil {
				tc.Setup(t, ch)
			}

			req := request(2, tc.Method)
			err := ch.HandleRequest(ctx, req)
			assert.ErrorIs(t, err, tc.Err)
			assert.True(t, ch.Closed())

			resp := w.last(t)
			assert.Equal(t, uint64(2), resp.RequestID)
			if tc.Connection {
				closeMethod, ok := resp.Method.(framing.ConnectionClose)
				require.True(t, ok, "expected ConnectionClose, got %T", resp.Method)
				assert.Equal(t, tc.Code, closeMethod.ReplyCode)
				assert.Equal(t, tc.Method.ClassID(), closeMethod.ClassId)
				assert.Equal(t, tc.Method.MethodID(), closeMethod.MethodId)
			} else {
				closeMethod, ok := resp.Method.(framing.ChannelClose)
				require.True(t, ok, "expected ChannelClose, got %T", resp.Method)
				assert.Equal(t, tc.Code, closeMethod.ReplyCode)
				assert.Equal(t, tc.Method.ClassID(), closeMethod.ClassId)
				assert.NotEmpty(t, closeMethod.ReplyText)
			}

			assert.ErrorIs(t, ch.HandleRequest(ctx, request(3, framing.QueueDeclare{Queue: "q"})), ErrChannelClosed)
		})
	}

	t.Run("storage failures close the connection with an internal error", func(t *testing.T) {
		store := &failingStore{}
		store.On("CreateQueue", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))
		ch, _, w := newChannel(topology.WithStore(store))

		err := ch.HandleRequest(ctx, request(1, framing.QueueDeclare{Queue: "q", Durable: true}))
		assert.ErrorIs(t, err, amqperror.ErrStorageFailure)

		closeMethod, ok := w.last(t).Method.(framing.ConnectionClose)
		require.True(t, ok)
		assert.Equal(t, uint16(amqp.InternalError), closeMethod.ReplyCode)
		assert.Contains(t, closeMethod.ReplyText, "disk full")
	})

	t.Run("out of order request ids close the channel silently", func(t *testing.T) {
		ch, _, w := newChannel()
		require.NoError(t, ch.HandleRequest(ctx, request(5, framing.QueueDeclare{Queue: "q"})))

		err := ch.HandleRequest(ctx, request(4, framing.QueueDeclare{Queue: "q"}))
		assert.ErrorIs(t, err, amqperror.ErrCorrelationMismatch)
		assert.True(t, ch.Closed())
		assert.Len(t, w.frames, 1)
	})
}

func TestChannel_Loopback(t *testing.T) {
	ctx := context.Background()
	vh := topology.NewVirtualHost("test")

	var (
		server *Channel
		client *framing.RequestManager
	)
	toServer := framing.FrameWriterFunc(func(f framing.Frame) error {
		return server.HandleRequest(ctx, f.(framing.RequestFrame))
	})
	toClient := framing.FrameWriterFunc(func(f framing.Frame) error {
		return client.ResponseReceived(f.(framing.ResponseFrame))
	})
	client = framing.NewRequestManager(1, toServer)
	server = NewChannel(1, vh, toClient)

	var got []framing.Method
	handler := framing.ResponseHandlerFunc(func(m framing.Method) { got = append(got, m) })

	_, err := client.SendRequest(framing.ExchangeDeclare{Exchange: "orders", Type: "fanout"}, handler)
	require.NoError(t, err)
	_, err = client.SendRequest(framing.QueueDeclare{Queue: "invoices"}, handler)
	require.NoError(t, err)
	_, err = client.SendRequest(framing.QueueBind{Queue: "invoices", Exchange: "orders"}, handler)
	require.NoError(t, err)

	assert.Equal(t, []framing.Method{
		framing.ExchangeDeclareOk{},
		framing.QueueDeclareOk{Queue: "invoices"},
		framing.QueueBindOk{},
	}, got)
	assert.Zero(t, client.Pending())
	assert.Equal(t, uint64(3), client.LastProcessedResponseID())

	// the mark carried by the next request releases everything retained
	_, err = client.SendRequest(framing.QueueDeclare{Queue: "invoices", Passive: true}, handler)
	require.NoError(t, err)
	assert.Equal(t, 1, server.Responses().Retained())
	assert.Equal(t, uint64(3), server.Responses().PeerResponseMark())
}
