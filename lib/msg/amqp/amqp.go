// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/tarancss/aptosweb3/lib/msg"
)

// Exchanges declared by Setup.
const (
	WatchRequests  = "wr"
	HoldingsEvents = "he"
	WalletEvents   = "we"
)

var _ msg.MsgBroker = (*Amqp)(nil)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	l    sync.Mutex // guards ch
	ch   *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string) (*Amqp, error) {
	r := Amqp{}

	var err error
	if r.conn, err = amqp.Dial(uri); err != nil {
		return &r, err
	}

	log.Printf("Connected to %s", uri)

	return &r, nil
}

// Setup obtains an amqp channel and declares the message broker exchanges:
//
// - wr ("watch requests"): the wallet service publishes requests to this exchange
//
// - he ("holdings events"): the watcher service publishes holdings changes to this exchange
//
// - we ("wallet events"): wallet events relayed between wallet service instances
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	// declare exchanges
	for _, ex := range []string{WatchRequests, HoldingsEvents, WalletEvents} {
		if err = channel.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
			return err
		}
	}

	return nil
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.l.Lock()
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Printf("Error closing amqp.Channel:%v", err)
		}

		r.ch = nil

		log.Printf("amqp.Channel closed!")
	}
	r.l.Unlock()

	return r.conn.Close()
}

// channel returns the reusable channel, obtaining it if not present.
func (r *Amqp) channel() (*amqp.Channel, error) {
	r.l.Lock()
	defer r.l.Unlock()

	if r.ch == nil {
		var err error
		if r.ch, err = r.conn.Channel(); err != nil {
			return nil, err
		}
	}

	return r.ch, nil
}

// publish marshals v to JSON and publishes it to exchange with routing key.
func (r *Amqp) publish(exchange, key, header string, v interface{}) error {
	jsonDoc, err := json.Marshal(v)
	if err != nil {
		return err
	}

	ch, err := r.channel()
	if err != nil {
		return err
	}
	// build body
	m := amqp.Publishing{
		Headers:     amqp.Table{header: key},
		Body:        jsonDoc,
		ContentType: "application/json",
	}

	return ch.Publish(exchange, key, false, false, m)
}

// SendHoldings publishes holdings events to the "he" exchange
func (r *Amqp) SendHoldings(net string, hs []msg.HoldingsEvent) (err error) {
	for _, h := range hs {
		if err = r.publish(HoldingsEvents, net+".holdings."+h.Address, "x-holdings-name", h); err != nil {
			log.Printf("[%s] Error sending holdings event to message broker %v", net, err)

			return
		}
	}

	return
}

// SendRequest publishes a new watch request to the "wr" exchange
func (r *Amqp) SendRequest(net string, wr msg.WatchReq) (err error) {
	if err = r.publish(WatchRequests, net+"."+strconv.Itoa(wr.Type)+"."+wr.Obj, "x-wreq-name", wr); err != nil {
		log.Printf("[%s] Error sending request to message broker %v", net, err)
	}

	return
}

// SendWalletEvent publishes a wallet event to the "we" exchange
func (r *Amqp) SendWalletEvent(net string, e msg.WalletEvent) (err error) {
	if err = r.publish(WalletEvents, net+".wallet."+e.Name, "x-wallet-event", e); err != nil {
		log.Printf("[%s] Error sending wallet event to message broker %v", net, err)
	}

	return
}

// queue describes where a consumer reads from.
type queue struct {
	name      string // empty for a server named queue
	exchange  string
	key       string
	consumer  string
	exclusive bool
}

// consume binds q and pushes the decoded messages to the returned channel. Each message is acknowledged once mut is
// unlocked by the function managing it.
func consume[T any](r *Amqp, q queue, mut *sync.Mutex) (<-chan T, <-chan error, error) {
	ch, err := r.channel()
	if err != nil {
		return nil, nil, err
	}
	// declare queue, durable unless exclusive to this connection
	dq, err := ch.QueueDeclare(q.name, !q.exclusive, q.exclusive, q.exclusive, false, nil)
	if err != nil {
		return nil, nil, err
	}
	// bind queue to exchange
	if err = ch.QueueBind(dq.Name, q.key, q.exchange, false, nil); err != nil {
		return nil, nil, err
	}
	// create channel for receiving messages
	msgs, errCons := ch.Consume(dq.Name, q.consumer, false, q.exclusive, false, false, nil)
	if errCons != nil {
		return nil, nil, errCons
	}
	// define channels to return
	out := make(chan T)
	errs := make(chan error)
	// start routine to consume messages from broker
	go func() {
		defer close(errs)
		defer close(out)

		for m := range msgs {
			v := new(T)
			if err := json.Unmarshal(m.Body, v); err != nil {
				errs <- err

				_ = m.Nack(false, false)

				continue
			}

			out <- *v

			mut.Lock() // wait for the consumer to finish processing the message
			_ = m.Ack(false)
		}
	}()

	return out, errs, nil
}

// GetHoldings consumes holdings events of network net from the "he" exchange.
func (r *Amqp) GetHoldings(net string, mut *sync.Mutex) (<-chan msg.HoldingsEvent, <-chan error, error) {
	return consume[msg.HoldingsEvent](r, queue{
		name: HoldingsEvents + net, exchange: HoldingsEvents, key: net + ".*.*", consumer: "wallet-" + net,
	}, mut)
}

// GetWalletEvents consumes wallet events of network net from the "we" exchange. Every consumer gets its own queue so
// all of them see every event.
func (r *Amqp) GetWalletEvents(net string, mut *sync.Mutex) (<-chan msg.WalletEvent, <-chan error, error) {
	return consume[msg.WalletEvent](r, queue{
		exchange: WalletEvents, key: net + ".wallet.*", exclusive: true,
	}, mut)
}

// GetReqs consumes watch requests of network net from the "wr" exchange.
func (r *Amqp) GetReqs(net string, mut *sync.Mutex) (<-chan msg.WatchReq, <-chan error, error) {
	return consume[msg.WatchReq](r, queue{
		name: WatchRequests + net, exchange: WatchRequests, key: net + ".*.*", consumer: "watcher-" + net,
	}, mut)
}
