// Package notification fans terminal alert outcomes out to people: SMS to
// the originator's emergency contacts, push to registered responders.
// Delivery is best-effort; the pipeline never blocks on a carrier.
package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SMSSender delivers one templated SMS. Implementations adapt a real
// carrier SDK; tests inject fakes.
type SMSSender interface {
	Send(ctx context.Context, phone, sign, template string, params map[string]string) error
}

// PushSender delivers one push notification to an audience selector.
type PushSender interface {
	Push(ctx context.Context, title, content string, audience map[string]interface{}, extras map[string]interface{}) error
}

// Config carries carrier credentials and message templates.
type Config struct {
	SMSSign     string
	SMSTemplate string
	Contacts    []string // emergency contact phone numbers
}

// Dispatcher sends outcome notifications through whichever channels are
// configured. A nil channel is skipped, not an error.
type Dispatcher struct {
	cfg  Config
	sms  SMSSender
	push PushSender
	log  *zap.Logger
}

func NewDispatcher(cfg Config, sms SMSSender, push PushSender, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, sms: sms, push: push, log: log}
}

// AlertTerminal announces an alert's terminal state. Failures are logged
// and swallowed: the alert outcome is already durable, notification is a
// courtesy on top.
func (d *Dispatcher) AlertTerminal(ctx context.Context, alertID, state, reason string) error {
	title := fmt.Sprintf("Alert %s: %s", alertID, state)
	body := title
	if reason != "" {
		body = fmt.Sprintf("%s (%s)", title, reason)
	}

	if d.push != nil {
		audience := map[string]interface{}{"all": true}
		extras := map[string]interface{}{"alert_id": alertID, "state": state}
		if err := d.push.Push(ctx, title, body, audience, extras); err != nil {
			d.log.Warn("responder push failed", zap.String("alert_id", alertID), zap.Error(err))
		}
	}

	if d.sms != nil {
		params := map[string]string{"alert": alertID, "state": state}
		for _, phone := range d.cfg.Contacts {
			if err := d.sms.Send(ctx, phone, d.cfg.SMSSign, d.cfg.SMSTemplate, params); err != nil {
				d.log.Warn("contact sms failed",
					zap.String("alert_id", alertID),
					zap.String("phone", phone),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}
