// Package main: wallet service.
//
// Warning: The DB used by the microservice is just in order to serve requests of watched accounts so it should be
// the same database used by the watcher microservice. With the "memory" message broker type the watcher runs in this
// same process.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/tarancss/hd"

	"github.com/tarancss/aptosweb3/bridge"
	"github.com/tarancss/aptosweb3/bridge/localwallet"
	"github.com/tarancss/aptosweb3/lib/aptos"
	"github.com/tarancss/aptosweb3/lib/aptos/account"
	"github.com/tarancss/aptosweb3/lib/config"
	"github.com/tarancss/aptosweb3/lib/metrics"
	"github.com/tarancss/aptosweb3/lib/msg"
	"github.com/tarancss/aptosweb3/lib/msg/amqp"
	"github.com/tarancss/aptosweb3/lib/msg/memory"
	"github.com/tarancss/aptosweb3/lib/store"
	"github.com/tarancss/aptosweb3/lib/store/db"
	"github.com/tarancss/aptosweb3/token"
	"github.com/tarancss/aptosweb3/wallet"
	"github.com/tarancss/aptosweb3/watcher"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json or yaml file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100/metrics")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	config.SetLogLevel(conf.LogLevel)
	log.Printf("Configuration:%+v", conf)

	if len(conf.Networks) == 0 {
		log.Fatal("No networks configured")
	}

	// connect to database
	var dbConn store.DB

	if conf.DbConn != "" {
		if dbConn, err = db.New(conf.DbType, conf.DbConn); err != nil {
			panic(err)
		}

		log.Printf("Connecting to database:%+v", conf.DbConn)
	}

	// load Prometheus monitor
	var m *metrics.Metrics

	if *monitor {
		m = metrics.New(prometheus.DefaultRegisterer)

		go func() {
			log.Println("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			log.Println(http.ListenAndServe(":9100", h)) //nolint:gosec // metrics endpoint
		}()
	}

	// load all network clients
	nodes := make(map[string]*aptos.Client, len(conf.Networks))
	nets := make(map[string]wallet.Network, len(conf.Networks))

	for _, n := range conf.Networks {
		nodes[n.Name] = aptos.New(n.Node, aptos.WithFinalityTimeout(n.FinalityTimeout()), aptos.WithMetrics(m))
		nets[n.Name] = wallet.Network{Node: nodes[n.Name], MaxGas: n.MaxGas, TxOptions: txOptions(n), Faucet: n.Faucet}
	}

	log.Print("Network clients loaded")

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}

		if err = mb.Setup(nil); err != nil {
			panic(err)
		}
	case "memory":
		mb = memory.New()
	default:
		log.Fatalf("Unknown message broker type: %s", conf.MbType)
	}

	// load HD wallet
	seed, err := hex.DecodeString(conf.Seed)
	if err != nil {
		panic(err)
	}

	hdw, err := hd.Init(seed)
	if err != nil {
		panic(err)
	}

	// the bridge follows the local wallet on the first network
	first := conf.Networks[0]

	acc, err := account.FromHD(hdw, conf.Wallet.Wallet, conf.Wallet.Change, conf.Wallet.ID)
	if err != nil {
		panic(err)
	}

	target := bridge.NewTarget()
	lw := localwallet.New(acc, nodes[first.Name], first.Name, target)
	br := bridge.New(lw.Locator(), target, bridge.WithPollInterval(first.Poll()),
		bridge.WithSettleDelay(first.Settle()), bridge.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := br.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Bridge stopped: %v", err)
		}
	}()

	log.Printf("[%s] Local wallet account %s", first.Name, acc.Address())

	// run the watcher in process when there is no broker to reach another one
	var wt *watcher.Watcher

	if conf.MbType == "memory" && dbConn != nil {
		wnets := make(map[string]watcher.Network, len(conf.Networks))
		for _, n := range conf.Networks {
			wnets[n.Name] = watcher.Network{Reader: token.New(nodes[n.Name], n.MaxGas), Poll: n.Poll()}
		}

		wt = watcher.New(dbConn, mb, wnets, m)

		go func() {
			log.Printf("Watch: %s", <-wt.Watch())
		}()
	}

	// create wallet service
	w := wallet.New(dbConn, mb, nets, hdw, wallet.WithBridge(br, target, first.Name), wallet.WithMetrics(m))

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		if wt != nil {
			wt.StopWatcher()
		}

		cancel()
		w.StopWallet()
		close(finish)
	}()

	// manage watcher and wallet events
	if err := w.ManageEvents(); err != nil {
		log.Printf("Error setting up broker readers for events:%v", err)
	}

	lw.Announce()

	// init RESTful API, wait for its return and log response
	log.Printf("Wallet: %s", w.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}

// txOptions returns the transaction settings of n that override the node client defaults.
func txOptions(n config.NetworkConfig) []aptos.TxOption {
	var opts []aptos.TxOption

	if n.GasUnitPrice > 0 {
		opts = append(opts, aptos.WithGasUnitPrice(n.GasUnitPrice))
	}

	if n.Expiration() > 0 {
		opts = append(opts, aptos.WithExpiration(n.Expiration()))
	}

	return opts
}
