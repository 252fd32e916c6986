package handlers

import (
	"go.uber.org/zap"

	"safechain/internal/alert"
	"safechain/internal/reward"
	"safechain/internal/store"
	"safechain/pkg/metrics"
	"safechain/pkg/sse"
	"safechain/pkg/vault"
)

// Handlers carries the pipeline components the HTTP surface fronts.
type Handlers struct {
	machine *alert.Machine
	issuer  *reward.Issuer
	store   *store.Store
	vault   *vault.Vault
	events  *sse.Hub
	m       *metrics.Metrics
	log     *zap.Logger
}

// New creates the handler set. events and m may be nil; the stream endpoint
// then reports 404 and tamper counting is skipped.
func New(machine *alert.Machine, issuer *reward.Issuer, st *store.Store, v *vault.Vault, events *sse.Hub, m *metrics.Metrics, log *zap.Logger) *Handlers {
	return &Handlers{machine: machine, issuer: issuer, store: st, vault: v, events: events, m: m, log: log}
}
