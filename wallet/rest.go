package wallet

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

const timeout = 15

// servers are the http and https servers of the API.
type servers struct {
	s  *http.Server // http server
	ss *http.Server // https server
}

func (s servers) shutdown() {
	// shutdown http server
	if s.s != nil {
		if err := s.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%v", err)
		}
	}

	if s.ss != nil {
		if err := s.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown:%v", err)
		}
	}
}

// Router returns the handler serving the RESTful API.
func (w *Wallet) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", w.homeHandler)
	r.HandleFunc("/networks", w.networksHandler).Methods("GET") // get all available networks
	r.HandleFunc("/address", w.addressHandler).Methods("GET")   // get account from HD wallet
	// token queries
	r.HandleFunc("/accounts/{address}/tokens", w.tokensHandler).Methods("GET")     // data of the tokens held
	r.HandleFunc("/accounts/{address}/tokenids", w.tokenIDsHandler).Methods("GET") // ids of the tokens held
	r.HandleFunc("/collections/{creator}/{collection}", w.collectionHandler).Methods("GET")
	r.HandleFunc("/tokens/{creator}/{collection}/{name}", w.tokenDataHandler).Methods("GET")
	r.HandleFunc("/balances/{address}/{creator}/{collection}/{name}", w.balanceHandler).Methods("GET")
	r.HandleFunc("/tables/{handle}/item", w.tableItemHandler).Methods("POST") // node table passthrough
	// token transactions
	r.HandleFunc("/collection", w.txHandler(createCollection)).Methods("POST")
	r.HandleFunc("/token", w.txHandler(createToken)).Methods("POST")
	r.HandleFunc("/offer", w.txHandler(offerToken)).Methods("POST")
	r.HandleFunc("/claim", w.txHandler(claimToken)).Methods("POST")
	r.HandleFunc("/cancel", w.txHandler(cancelOffer)).Methods("POST")
	// watched accounts
	r.HandleFunc("/watch/{address}", w.watchHandler).Methods("POST", "DELETE") // watch or unwatch an account
	r.HandleFunc("/watch", w.getWatchedHandler).Methods("GET")                 // get watched accounts
	r.HandleFunc("/holdings/{address}", w.holdingsHandler).Methods("GET")      // last holdings reported
	// wallet bridge
	r.HandleFunc("/bridge", w.bridgeHandler).Methods("GET")
	r.HandleFunc("/bridge/connect", w.bridgeConnectHandler).Methods("POST")
	r.HandleFunc("/bridge/disconnect", w.bridgeDisconnectHandler).Methods("POST")
	r.HandleFunc("/bridge/ws", w.bridgeWSHandler).Methods("GET")

	r.Use(w.metricsMiddleware)

	return r
}

// metricsMiddleware counts the requests served by route and status code.
func (w *Wallet) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: rw, code: http.StatusOK}
		next.ServeHTTP(sr, r)

		route := r.URL.Path
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		w.m.ObserveAPI(route, sr.code)
	})
}

// statusRecorder keeps the status code written to a response.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap gives http.ResponseController access to the underlying connection.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Hijack lets the websocket upgrader take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}

	return h.Hijack()
}

// Init sets up and starts the http/https server to service the RESTful API for a wallet service. If sslPort, ssCert
// and sslKey are informed, it will start an https (TLS) server on the specified endpoint.
func (w *Wallet) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	r := w.Router()

	// start http server
	if port != "" {
		w.srv.s = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + port,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = w.srv.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		w.srv.ss = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + sslPort,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = w.srv.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-w.sc

	return fmt.Sprintf("shutdown http server:%v, https server:%v", err, errTLS)
}
