// Package ledgertest runs a fake ledger node over httptest for the test
// suites of the gateway and everything built on top of it.
package ledgertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Node is a scriptable in-process ledger node.
type Node struct {
	mu sync.Mutex

	// FailuresBeforeAccept makes the node answer 503 this many times
	// before accepting submissions.
	FailuresBeforeAccept int

	// RejectWith, when set, makes the node refuse every submission with
	// a 400 and this message.
	RejectWith string

	// ConfirmAfterPolls delays confirmation for this many status polls.
	ConfirmAfterPolls int

	// SubmitDelay holds every submission on the wire for this long before
	// the node answers.
	SubmitDelay time.Duration

	// PoolError, when set, makes every status poll report the transaction
	// as dropped from the pool with this message.
	PoolError string

	submissions []Submission
	leases      map[string]string // lease -> txRef
	polls       map[string]int
	nextTx      int
	attempts    int

	server *httptest.Server
}

// Submission is one transaction the node saw.
type Submission struct {
	Method string   `json:"method"`
	Sender string   `json:"sender"`
	AppID  uint64   `json:"app_id"`
	Args   []string `json:"args"`
	Lease  string   `json:"lease"`
}

// Start brings up the node.
func Start() *Node {
	n := &Node{
		leases: make(map[string]string),
		polls:  make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/transactions", n.handleSubmit)
	mux.HandleFunc("GET /v2/transactions/pending/{txid}", n.handlePending)
	n.server = httptest.NewServer(mux)
	return n
}

// URL returns the node's base URL.
func (n *Node) URL() string { return n.server.URL }

// Close shuts the node down.
func (n *Node) Close() { n.server.Close() }

// Submissions returns every transaction the node accepted.
func (n *Node) Submissions() []Submission {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Submission, len(n.submissions))
	copy(out, n.submissions)
	return out
}

// SubmitAttempts returns how many submission requests arrived, accepted
// or not.
func (n *Node) SubmitAttempts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attempts
}

func (n *Node) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if d := n.SubmitDelay; d > 0 {
		time.Sleep(d)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts++

	if n.FailuresBeforeAccept > 0 {
		n.FailuresBeforeAccept--
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"message": "node catching up"})
		return
	}
	if n.RejectWith != "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"message": n.RejectWith})
		return
	}

	var sub Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"message": "malformed envelope"})
		return
	}

	// Duplicate-lease protection: the same logical transaction maps to
	// the same tx ref instead of a second registration.
	if tx, ok := n.leases[sub.Lease]; ok {
		json.NewEncoder(w).Encode(map[string]string{"txId": tx})
		return
	}

	n.nextTx++
	tx := fmt.Sprintf("TX-%06d", n.nextTx)
	n.leases[sub.Lease] = tx
	n.submissions = append(n.submissions, sub)
	json.NewEncoder(w).Encode(map[string]string{"txId": tx})
}

func (n *Node) handlePending(w http.ResponseWriter, r *http.Request) {
	txRef := r.PathValue("txid")

	n.mu.Lock()
	defer n.mu.Unlock()
	n.polls[txRef]++
	if n.PoolError != "" {
		json.NewEncoder(w).Encode(map[string]interface{}{"confirmedRound": 0, "poolError": n.PoolError})
		return
	}
	if n.polls[txRef] <= n.ConfirmAfterPolls {
		json.NewEncoder(w).Encode(map[string]interface{}{"confirmedRound": 0})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"confirmedRound": 1042})
}
