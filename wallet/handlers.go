package wallet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/tarancss/hd"

	"github.com/tarancss/aptosweb3/bridge"
	"github.com/tarancss/aptosweb3/lib/aptos"
	"github.com/tarancss/aptosweb3/lib/aptos/account"
	"github.com/tarancss/aptosweb3/lib/aptos/types"
	"github.com/tarancss/aptosweb3/lib/msg"
	"github.com/tarancss/aptosweb3/lib/store"
	"github.com/tarancss/aptosweb3/token"
)

// Errors returned to client requests.
var (
	ErrBadMethod   = errors.New("bad method in request")
	ErrBadrequest  = errors.New("bad request")
	ErrChange      = errors.New("invalid change: has to be either 0 /1 or external / change")
	ErrMissingNet  = errors.New("undefined network - missing query: ?net=<network>")
	ErrNoAddr      = errors.New("invalid or missing address")
	ErrNoNet       = errors.New("network not available")
	ErrNoHD        = errors.New("no HD wallet loaded")
	ErrNoHoldings  = errors.New("no holdings reported for account")
	ErrNoBridge    = errors.New("wallet bridge not available")
	ErrNoDB        = errors.New("no database loaded")
	ErrMissingData = errors.New("missing transaction data")
)

// wsWriteWait is the time allowed to write a state to a websocket client.
const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{ //nolint:gochecknoglobals // stateless
	CheckOrigin: func(*http.Request) bool { return true },
}

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// TxReq transaction request data required to send token transactions to the networks. Wallet, Change and ID
// correspond to the HD wallet account signing the transaction, the other fields are used depending on the
// operation.
type TxReq struct {
	Wallet uint32 `json:"wallet"`
	Change uint8  `json:"change"`
	ID     uint32 `json:"id"`
	Net    string `json:"net"` // network to submit the transaction to

	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	URI         string `json:"uri,omitempty"`
	Collection  string `json:"collection,omitempty"`
	Creator     string `json:"creator,omitempty"`
	Receiver    string `json:"receiver,omitempty"`
	Sender      string `json:"sender,omitempty"`
	Supply      uint64 `json:"supply,omitempty"`
	Royalty     uint64 `json:"royaltyPointsPerMillion,omitempty"`
	Amount      uint64 `json:"amount,omitempty"`
}

// statusOf maps an error to the http status code replied.
func statusOf(err error) int {
	var apiErr *types.APIError

	switch {
	case errors.Is(err, ErrNoNet), errors.Is(err, ErrNoHoldings), errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrNoResource), errors.Is(err, store.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoBridge), errors.Is(err, ErrNoDB), errors.Is(err, bridge.ErrNoWallet):
		return http.StatusServiceUnavailable
	case errors.Is(err, bridge.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, types.ErrFinalityTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr):
		return apiErr.Status
	default:
		return http.StatusBadRequest
	}
}

// reply writes res to the client, the error if any, or the JSON encoding of body with status code.
func reply(rw http.ResponseWriter, r *http.Request, code int, body interface{}, err error) {
	var res Response

	if err != nil {
		res.Error = err.Error()
		code = statusOf(err)
	} else if body != nil {
		if s, ok := body.(string); ok {
			res.Body = s
		} else {
			tmp, _ := json.Marshal(body)
			res.Body = string(tmp)
		}
	}
	// log request
	log.Printf("httpreq from %v %s code:%d err:%v", r.RemoteAddr, r.RequestURI, code, err)
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(&res)
}

// validAddress checks address is a 0x prefixed hex account address of at most 32 bytes.
func validAddress(address string) bool {
	if !strings.HasPrefix(address, "0x") || len(address) < 3 || len(address) > 66 {
		return false
	}

	h := address[2:]
	if len(h)%2 == 1 {
		h = "0" + h
	}

	_, err := hex.DecodeString(h)

	return err == nil
}

// network returns the network requested in the ?net= query.
func (w *Wallet) network(r *http.Request) (network, string, error) {
	if err := r.ParseForm(); err != nil {
		return network{}, "", err
	}

	net, ok := r.Form["net"]
	if !ok || len(net) != 1 { // we only allow 1 net per request
		return network{}, "", ErrMissingNet
	}

	n, ok := w.nets[net[0]]
	if !ok {
		return network{}, net[0], ErrNoNet
	}

	return n, net[0], nil
}

// homeHandler just replies a welcome message to the client.
func (w *Wallet) homeHandler(rw http.ResponseWriter, r *http.Request) {
	reply(rw, r, http.StatusOK, "Hello, this is your Aptos token wallet!", nil)
}

// NetworkInfo describes a network available to the wallet. ChainID and LedgerVersion are left empty when the node
// cannot be reached.
type NetworkInfo struct {
	Name          string `json:"name"`
	Node          string `json:"node"`
	Faucet        string `json:"faucet,omitempty"`
	ChainID       int    `json:"chainId,omitempty"`
	LedgerVersion string `json:"ledgerVersion,omitempty"`
}

// networksHandler replies the networks available to the wallet, sorted by name, with the ledger info of their nodes.
func (w *Wallet) networksHandler(rw http.ResponseWriter, r *http.Request) {
	pl := make([]NetworkInfo, 0, len(w.nets))

	for net, n := range w.nets {
		ni := NetworkInfo{Name: net, Node: n.node.NodeURL(), Faucet: n.faucet}

		li, err := n.node.GetLedgerInfo(r.Context())
		if err != nil {
			log.Printf("[%s] Cannot get ledger info: %v", net, err)
		} else {
			ni.ChainID, ni.LedgerVersion = li.ChainID, li.LedgerVersion
		}

		pl = append(pl, ni)
	}

	sort.Slice(pl, func(i, j int) bool { return pl[i].Name < pl[j].Name })

	reply(rw, r, http.StatusOK, pl, nil)
}

// addressHandler replies the address of the HD wallet account requested in the query (wallet, change and id).
func (w *Wallet) addressHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		acc *account.Local
	)

	defer func() {
		if err != nil {
			reply(rw, r, 0, nil, err)

			return
		}

		reply(rw, r, http.StatusOK, acc.Public(), nil)
	}()

	if err = r.ParseForm(); err != nil {
		return
	}

	var wallet, id uint64

	var change uint8

	if wallet, err = strconv.ParseUint(r.Form.Get("wallet"), 0, 32); err != nil {
		err = fmt.Errorf("%w: wallet %q", ErrBadrequest, r.Form.Get("wallet"))

		return
	}

	switch r.Form.Get("change") {
	case "0", "external":
		change = hd.External
	case "1", "change":
		change = hd.Change
	default:
		err = ErrChange

		return
	}

	if id, err = strconv.ParseUint(r.Form.Get("id"), 0, 32); err != nil {
		err = fmt.Errorf("%w: id %q", ErrBadrequest, r.Form.Get("id"))

		return
	}

	acc, err = w.account(uint32(wallet), change, uint32(id))
}

// account derives the HD wallet account.
func (w *Wallet) account(wallet uint32, change uint8, id uint32) (*account.Local, error) {
	if w.hd == nil {
		return nil, ErrNoHD
	}

	if change != hd.External && change != hd.Change {
		return nil, ErrChange
	}

	return account.FromHD(w.hd, wallet, change, id)
}

// tokensHandler replies the data of the tokens held by an account.
func (w *Wallet) tokensHandler(rw http.ResponseWriter, r *http.Request) {
	n, _, err := w.network(r)
	if err != nil {
		reply(rw, r, 0, nil, err)

		return
	}

	address := strings.ToLower(mux.Vars(r)["address"])
	if !validAddress(address) {
		reply(rw, r, 0, nil, ErrNoAddr)

		return
	}

	tokens, err := n.tokens.GetTokens(r.Context(), address)
	reply(rw, r, http.StatusOK, tokens, err)
}

// tokenIDsHandler replies the ids of the tokens held by an account.
func (w *Wallet) tokenIDsHandler(rw http.ResponseWriter, r *http.Request) {
	n, _, err := w.network(r)
	if err != nil {
		reply(rw, r, 0, nil, err)

		return
	}

	address := strings.ToLower(mux.Vars(r)["address"])
	if !validAddress(address) {
		reply(rw, r, 0, nil, ErrNoAddr)

		return
	}

	ids, err := n.tokens.GetTokenIDs(r.Context(), address)
	reply(rw, r, http.StatusOK, ids, err)
}

// collectionHandler replies the data of a collection.
func (w *Wallet) collectionHandler(rw http.ResponseWriter, r *http.Request) {
	n, _, err := w.network(r)
	if err != nil {
		reply(rw, r, 0, nil, err)

		return
	}

	v := mux.Vars(r)

	c, err := n.tokens.GetCollectionData(r.Context(), v["creator"], v["collection"])
	reply(rw, r, http.StatusOK, c, err)
}

// tokenDataHandler replies the data of a token.
func (w *Wallet) tokenDataHandler(rw http.ResponseWriter, r *http.Request) {
	n, _, err := w.network(r)
	if err != nil {
		reply(rw, r, 0, nil, err)

		return
	}

	v := mux.Vars(r)

	td, err := n.tokens.GetTokenData(r.Context(), v["creator"], v["collection"], v["name"])
	reply(rw, r, http.StatusOK, td, err)
}

// balanceHandler replies the balance of a token held by an account.
func (w *Wallet) balanceHandler(rw http.ResponseWriter, r *http.Request) {
	n, _, err := w.network(r)
	if err != nil {
		reply(rw, r, 0, nil, err)

		return
	}

	v := mux.Vars(r)

	tok, err := n.tokens.GetTokenBalanceForAccount(r.Context(), strings.ToLower(v["address"]),
		types.TokenID{Creator: v["creator"], Collection: v["collection"], Name: v["name"]})
	reply(rw, r, http.StatusOK, tok, err)
}

// tableItemHandler forwards a table item request to the node. A missing item is replied with a not found status and
// an empty body.
func (w *Wallet) tableItemHandler(rw http.ResponseWriter, r *http.Request) {
	n, _, err := w.network(r)
	if err != nil {
		reply(rw, r, 0, nil, err)

		return
	}

	var req types.TableItemRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		reply(rw, r, 0, nil, fmt.Errorf("%w: %v", ErrBadrequest, err))

		return
	}

	item, err := n.node.TableItem(r.Context(), mux.Vars(r)["handle"], req.KeyType, req.ValueType, req.Key)

	switch {
	case err != nil:
		reply(rw, r, 0, nil, err)
	case item == nil:
		reply(rw, r, http.StatusNotFound, nil, nil)
	default:
		reply(rw, r, http.StatusOK, string(item), nil)
	}
}

// txOp runs a token transaction on behalf of s.
type txOp struct {
	kind string
	run  func(ctx context.Context, c *token.Client, s aptos.Signer, req TxReq) (string, error)
}

// need returns ErrMissingData unless all values are informed.
func need(values ...string) error {
	for _, v := range values {
		if v == "" {
			return ErrMissingData
		}
	}

	return nil
}

var ( //nolint:gochecknoglobals // operation table
	createCollection = txOp{"create_collection", func(ctx context.Context, c *token.Client, s aptos.Signer,
		req TxReq,
	) (string, error) {
		if err := need(req.Name); err != nil {
			return "", err
		}

		return c.CreateCollection(ctx, s, req.Name, req.Description, req.URI)
	}}

	createToken = txOp{"create_token", func(ctx context.Context, c *token.Client, s aptos.Signer,
		req TxReq,
	) (string, error) {
		if err := need(req.Collection, req.Name); err != nil {
			return "", err
		}

		if req.Supply == 0 {
			req.Supply = 1
		}

		return c.CreateToken(ctx, s, req.Collection, req.Name, req.Description, req.Supply, req.URI, req.Royalty)
	}}

	offerToken = txOp{"offer_token", func(ctx context.Context, c *token.Client, s aptos.Signer,
		req TxReq,
	) (string, error) {
		if err := need(req.Receiver, req.Creator, req.Collection, req.Name); err != nil {
			return "", err
		}

		if req.Amount == 0 {
			req.Amount = 1
		}

		return c.OfferToken(ctx, s, req.Receiver, req.Creator, req.Collection, req.Name, req.Amount)
	}}

	claimToken = txOp{"claim_token", func(ctx context.Context, c *token.Client, s aptos.Signer,
		req TxReq,
	) (string, error) {
		if err := need(req.Sender, req.Creator, req.Collection, req.Name); err != nil {
			return "", err
		}

		return c.ClaimToken(ctx, s, req.Sender, req.Creator, req.Collection, req.Name)
	}}

	cancelOffer = txOp{"cancel_offer", func(ctx context.Context, c *token.Client, s aptos.Signer,
		req TxReq,
	) (string, error) {
		if err := need(req.Receiver, req.Creator, req.Collection, req.Name); err != nil {
			return "", err
		}

		return c.CancelTokenOffer(ctx, s, req.Receiver, req.Creator, req.Collection, req.Name)
	}}
)

// txHandler returns the handler of a token transaction. The transaction is signed by the HD wallet account in the
// request and the reply, sent once the transaction is committed, carries its hash. Committed transactions are
// published as wallet events.
func (w *Wallet) txHandler(op txOp) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var (
			err    error
			txReq  TxReq
			detail bridge.TxDetail
		)

		defer func() {
			w.m.ObserveTx(op.kind, err)

			reply(rw, r, http.StatusOK, detail, err)
		}()

		// get request
		if err = json.NewDecoder(r.Body).Decode(&txReq); err != nil {
			err = fmt.Errorf("%w: %v", ErrBadrequest, err)

			return
		}
		// the reply waits for finality, which may take longer than the server read and write timeouts
		rc := http.NewResponseController(rw)
		if e := rc.SetReadDeadline(time.Time{}); e != nil {
			log.Debugf("Cannot clear read deadline of %s: %v", r.URL.Path, e)
		}

		if e := rc.SetWriteDeadline(time.Time{}); e != nil {
			log.Debugf("Cannot clear write deadline of %s: %v", r.URL.Path, e)
		}

		n, ok := w.nets[txReq.Net]
		if !ok {
			err = ErrNoNet

			return
		}
		// get HD wallet account
		acc, err := w.account(txReq.Wallet, txReq.Change, txReq.ID)
		if err != nil {
			log.Printf("Error obtaining HD wallet account for :%d %d %d", txReq.Wallet, txReq.Change, txReq.ID)

			return
		}

		hash, err := op.run(r.Context(), n.tokens, acc, txReq)
		if err != nil {
			return
		}

		detail = bridge.TxDetail{ID: uuid.NewString(), Tx: hash}
		w.publishTx(txReq.Net, detail.ID, detail.Tx)
	}
}

// watchHandler sends a watch request message to the broker to start or stop watching an account. A request accepted
// status will be replied or an error otherwise.
func (w *Wallet) watchHandler(rw http.ResponseWriter, r *http.Request) {
	_, net, err := w.network(r)
	if err != nil {
		reply(rw, r, 0, nil, err)

		return
	}

	address := strings.ToLower(mux.Vars(r)["address"]) // keep everything in lowercase to avoid issues
	if !validAddress(address) {
		reply(rw, r, 0, nil, ErrNoAddr)

		return
	}

	wr := msg.WatchReq{Net: net, Type: msg.ACCOUNT, Obj: address}

	switch r.Method {
	case http.MethodPost:
		wr.Act = msg.WATCH
	case http.MethodDelete:
		wr.Act = msg.UNWATCH
	default:
		reply(rw, r, 0, nil, ErrBadMethod)

		return
	}
	// send message to broker
	reply(rw, r, http.StatusAccepted, nil, w.mb.SendRequest(net, wr))
}

// getWatchedHandler replies the client with the accounts being watched on the specified network. If no network is
// queried, accounts from all the networks are returned.
func (w *Wallet) getWatchedHandler(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		reply(rw, r, 0, nil, err)

		return
	}

	net, ok := r.Form["net"]
	if ok && len(net) != 1 { // we only allow 1 net per request
		reply(rw, r, 0, nil, ErrMissingNet)

		return
	}

	if w.db == nil {
		reply(rw, r, 0, nil, ErrNoDB)

		return
	}

	accs, err := w.db.GetAccounts(net)
	reply(rw, r, http.StatusOK, accs, err)
}

// holdingsHandler replies the last holdings reported by the watcher for an account.
func (w *Wallet) holdingsHandler(rw http.ResponseWriter, r *http.Request) {
	_, net, err := w.network(r)
	if err != nil {
		reply(rw, r, 0, nil, err)

		return
	}

	h, ok := w.Holdings(net, strings.ToLower(mux.Vars(r)["address"]))
	if !ok {
		reply(rw, r, 0, nil, ErrNoHoldings)

		return
	}

	reply(rw, r, http.StatusOK, h, nil)
}

// bridgeHandler replies the current state of the wallet bridge.
func (w *Wallet) bridgeHandler(rw http.ResponseWriter, r *http.Request) {
	if w.br == nil {
		reply(rw, r, 0, nil, ErrNoBridge)

		return
	}

	reply(rw, r, http.StatusOK, w.br.Snapshot(), nil)
}

// bridgeConnectHandler asks the bridged wallet to connect and replies its account.
func (w *Wallet) bridgeConnectHandler(rw http.ResponseWriter, r *http.Request) {
	if w.br == nil {
		reply(rw, r, 0, nil, ErrNoBridge)

		return
	}

	acc, err := w.br.Connect(r.Context())
	reply(rw, r, http.StatusOK, acc, err)
}

// bridgeDisconnectHandler asks the bridged wallet to disconnect.
func (w *Wallet) bridgeDisconnectHandler(rw http.ResponseWriter, r *http.Request) {
	if w.br == nil {
		reply(rw, r, 0, nil, ErrNoBridge)

		return
	}

	reply(rw, r, http.StatusOK, nil, w.br.Disconnect(r.Context()))
}

// bridgeWSHandler streams the state of the wallet bridge to a websocket client, starting with the current one. The
// stream ends when the client goes away.
func (w *Wallet) bridgeWSHandler(rw http.ResponseWriter, r *http.Request) {
	if w.br == nil {
		reply(rw, r, 0, nil, ErrNoBridge)

		return
	}

	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.Printf("httpreq from %v %s websocket upgrade err:%v", r.RemoteAddr, r.RequestURI, err)

		return
	}
	defer conn.Close()

	states, unsubscribe := w.br.Subscribe()
	defer unsubscribe()

	// read until the client goes away, the server read deadline does not apply to the stream
	_ = conn.SetReadDeadline(time.Time{})
	gone := make(chan struct{})

	go func() {
		defer close(gone)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case st, ok := <-states:
			if !ok {
				return
			}

			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))

			if err = conn.WriteJSON(st); err != nil {
				log.Printf("httpreq from %v %s websocket write err:%v", r.RemoteAddr, r.RequestURI, err)

				return
			}
		}
	}
}
