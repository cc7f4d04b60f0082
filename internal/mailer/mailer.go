// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mailer sends the plain-text notification emails the pipeline and
// feed worker emit on new additions and sustained failure.
package mailer

import (
	"fmt"
	"net/smtp"

	"github.com/rssqb/rssqb/internal/config"
)

// Mailer sends single-shot plain-text notifications over SMTP.
type Mailer struct {
	cfg config.Email
}

// New returns a Mailer, or nil if cfg is nil (email notification disabled).
func New(cfg *config.Email) *Mailer {
	if cfg == nil {
		return nil
	}
	return &Mailer{cfg: *cfg}
}

// Send delivers an email with subject and body to the configured receiver.
// A nil Mailer makes Send a no-op, so callers need not nil-check before use.
func (m *Mailer) Send(subject, body string) error {
	if m == nil {
		return nil
	}
	auth := smtp.PlainAuth("", m.cfg.Sender, m.cfg.SenderPswd, m.cfg.SMTPHost)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.cfg.Sender, m.cfg.Receiver, subject, body)
	addr := m.cfg.SMTPHost + ":587"
	return smtp.SendMail(addr, auth, m.cfg.Sender, []string{m.cfg.Receiver}, []byte(msg))
}
