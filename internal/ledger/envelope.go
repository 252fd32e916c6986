package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"safechain/internal/models"
)

// Contract methods understood by the on-chain application.
const (
	methodRegisterAlert   = "register_sos"
	methodRewardResponder = "reward_responder"
	methodVerifyResponder = "verify_responder"
)

// Envelope is the application-call transaction sent to the ledger node.
// Lease is derived from the domain key, so resubmitting the same logical
// transaction after a network failure cannot double-register: the node
// rejects a second transaction carrying an active lease.
type Envelope struct {
	Method string   `json:"method"`
	Sender string   `json:"sender"`
	AppID  uint64   `json:"app_id"`
	Args   []string `json:"args"`
	Lease  string   `json:"lease"`
}

// deriveLease computes the stable nonce for a logical transaction.
func deriveLease(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func alertEnvelope(appID uint64, alert *models.Alert) Envelope {
	return Envelope{
		Method: methodRegisterAlert,
		Sender: alert.Originator,
		AppID:  appID,
		Args: []string{
			alert.AlertID,
			strconv.FormatFloat(alert.Latitude, 'f', -1, 64),
			strconv.FormatFloat(alert.Longitude, 'f', -1, 64),
			alert.MediaRef,
			alert.Message,
		},
		Lease: deriveLease("alert", alert.AlertID),
	}
}

func rewardEnvelope(appID uint64, rec *models.RewardRecord) Envelope {
	return Envelope{
		Method: methodRewardResponder,
		Sender: rec.ResponderID,
		AppID:  appID,
		Args: []string{
			rec.AlertID,
			rec.ResponderID,
			strconv.FormatUint(rec.Amount, 10),
		},
		Lease: deriveLease("reward", rec.AlertID, rec.ResponderID),
	}
}

func verifyEnvelope(appID uint64, responderID, proof string) Envelope {
	return Envelope{
		Method: methodVerifyResponder,
		Sender: responderID,
		AppID:  appID,
		Args:   []string{responderID, proof},
		Lease:  deriveLease("verify", responderID, proof),
	}
}
