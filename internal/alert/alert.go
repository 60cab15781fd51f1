// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends mail notifications when too many lanes report a
// FAULT during a monitoring cycle.
package alert // import "github.com/go-lpc/itsfee/internal/alert"

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/itsfee/config"
	"github.com/go-lpc/itsfee/cycle"
	"github.com/go-lpc/itsfee/geom"
	"github.com/go-lpc/itsfee/status"
	mail "gopkg.in/gomail.v2"
)

// MaxAlerts is the maximum number of mails sent during one run.
const MaxAlerts = 5

// Notifier checks publications against a FAULT threshold and mails the
// shifters when it is exceeded.
type Notifier struct {
	cfg  config.Alert
	msg  log.MsgStream
	send func(m *mail.Message) error

	mu   sync.Mutex
	run  uint32
	sent int
}

// New creates a new notifier.
// A notifier with no SMTP server configured never sends anything.
func New(cfg config.Alert, msg log.MsgStream) *Notifier {
	n := &Notifier{cfg: cfg, msg: msg}
	n.send = n.dialAndSend
	return n
}

// Enabled reports whether the notifier is configured to send mails.
func (n *Notifier) Enabled() bool {
	return n != nil && n.cfg.SMTP != ""
}

func (n *Notifier) dialAndSend(m *mail.Message) error {
	dial := mail.NewDialer(n.cfg.SMTP, n.cfg.Port, n.cfg.User, n.cfg.Password)
	dial.TLSConfig = &tls.Config{
		ServerName: n.cfg.SMTP,
	}
	return dial.DialAndSend(m)
}

// Check inspects the per-cycle snapshot of a publication and sends an
// alert when the number of FAULT lanes reaches the configured threshold.
// Check reports whether an alert was sent.
func (n *Notifier) Check(pub cycle.Publication) (bool, error) {
	if !n.Enabled() || pub.PerCycle == nil {
		return false, nil
	}

	faults := pub.PerCycle.Global(status.Fault)
	if faults < n.cfg.Threshold {
		return false, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if pub.Run != n.run {
		n.run = pub.Run
		n.sent = 0
	}
	if n.sent >= MaxAlerts {
		n.msg.Debugf("alert: run=%d, cycle=%d: %d faults (alerts muted)", pub.Run, pub.Cycle, faults)
		return false, nil
	}

	m := n.message(pub, faults)
	err := n.send(m)
	if err != nil {
		return false, fmt.Errorf("alert: could not send mail alert: %w", err)
	}
	n.sent++
	n.msg.Warnf("alert: run=%d, cycle=%d: %d faulty lanes (alert %d/%d sent)",
		pub.Run, pub.Cycle, faults, n.sent, MaxAlerts,
	)
	return true, nil
}

func (n *Notifier) message(pub cycle.Publication, faults uint64) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("Bcc", n.cfg.To...)
	m.SetHeader("Subject", fmt.Sprintf(
		"[its-fee] run %d: %d faulty lanes in cycle %d", pub.Run, faults, pub.Cycle,
	))
	m.SetBody("text/plain", body(pub, n.cfg.Threshold))
	return m
}

func body(pub cycle.Publication, threshold uint64) string {
	var (
		o   = new(bytes.Buffer)
		s   = pub.PerCycle
		geo = s.Geometry()
	)
	fmt.Fprintf(o, "run:       %d\n", pub.Run)
	fmt.Fprintf(o, "cycle:     %d\n", pub.Cycle)
	fmt.Fprintf(o, "threshold: %d\n\n", threshold)
	fmt.Fprintf(o, "%-8s %10s %10s %10s\n", "", "WARNING", "ERROR", "FAULT")
	for i := 0; i < geom.NLayers; i++ {
		fmt.Fprintf(o, "layer-%d  %10d %10d %10d\n", i,
			s.Layer(i, status.Warning), s.Layer(i, status.Error), s.Layer(i, status.Fault),
		)
	}
	for _, p := range []geom.Partition{geom.InnerBarrel, geom.MiddleLayers, geom.OuterLayers} {
		fmt.Fprintf(o, "%-8s %10d %10d %10d\n", p,
			s.Partition(p, status.Warning), s.Partition(p, status.Error), s.Partition(p, status.Fault),
		)
	}
	fmt.Fprintf(o, "%-8s %10d %10d %10d\n", "global",
		s.Global(status.Warning), s.Global(status.Error), s.Global(status.Fault),
	)

	fmt.Fprintf(o, "\nfaulty lanes:\n")
	for layer := 0; layer < geom.NLayers; layer++ {
		lay := geo.Layer(layer)
		for stave := 0; stave < lay.Staves; stave++ {
			for lane := 0; lane < lay.LanesPerStave(); lane++ {
				c := geom.Coord{Layer: layer, Stave: stave, Lane: lane}
				if v := s.Lane(c, status.Fault); v > 0 {
					fmt.Fprintf(o, " L%d_%02d lane %2d: %d\n", layer, stave, lane, v)
				}
			}
		}
	}
	return o.String()
}
