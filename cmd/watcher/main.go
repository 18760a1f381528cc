// Package main: watcher service.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/tarancss/aptosweb3/lib/aptos"
	"github.com/tarancss/aptosweb3/lib/config"
	"github.com/tarancss/aptosweb3/lib/metrics"
	"github.com/tarancss/aptosweb3/lib/msg"
	"github.com/tarancss/aptosweb3/lib/msg/amqp"
	"github.com/tarancss/aptosweb3/lib/store"
	"github.com/tarancss/aptosweb3/lib/store/db"
	"github.com/tarancss/aptosweb3/token"
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

	// connect to database
	var dbConn store.DB

	log.Printf("Connecting to database:%+v", conf.DbConn)

	if dbConn, err = db.New(conf.DbType, conf.DbConn); err != nil {
		panic(err)
	}

	defer func() {
		log.Printf("Disconnecting database, err:%v", db.Close(dbConn))
	}()

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
	nets := make(map[string]watcher.Network, len(conf.Networks))

	for _, n := range conf.Networks {
		node := aptos.New(n.Node, aptos.WithMetrics(m))
		nets[n.Name] = watcher.Network{Reader: token.New(node, n.MaxGas), Poll: n.Poll()}
	}

	log.Print("Network clients loaded")

	// load message broker, the watcher needs one to receive requests from wallets
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

		defer func() {
			log.Printf("Closing messageBroker: %v", mb.Close())
		}()
	default:
		log.Fatalf("Unknown message broker type: %s", conf.MbType)
	}

	// create watcher service
	w := watcher.New(dbConn, mb, nets, m)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		w.StopWatcher()
	}()

	// launch watcher (for each network) creating a waiting channel for each
	log.Printf("Watch: %s", <-w.Watch())
}
