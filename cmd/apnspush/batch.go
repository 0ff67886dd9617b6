package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/apnskit/pkg/apns"
)

// batchFile is the YAML document accepted by `send --batch`:
//
//	defaults:
//	  expiry: 1h
//	  alert: "Hello"
//	notifications:
//	  - token: "740f4707 bebcf74f ..."
//	  - token: "..."
//	    payload: '{"aps":{"badge":3}}'
type batchFile struct {
	Defaults      batchEntry   `yaml:"defaults"`
	Notifications []batchEntry `yaml:"notifications"`
}

type batchEntry struct {
	Token   string        `yaml:"token"`
	Payload string        `yaml:"payload"`
	Alert   string        `yaml:"alert"`
	Expiry  time.Duration `yaml:"expiry"`
}

var errEmptyBatch = errors.New("batch contains no notifications")

// parseBatch reads a batch document and builds one notification per entry.
// Entry fields override the defaults; expiries are relative to now.
func parseBatch(r io.Reader, now time.Time) ([]apns.Notification, error) {
	var doc batchFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errEmptyBatch
		}
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if len(doc.Notifications) == 0 {
		return nil, errEmptyBatch
	}

	out := make([]apns.Notification, 0, len(doc.Notifications))
	for i, e := range doc.Notifications {
		n, err := e.withDefaults(doc.Defaults).notification(now)
		if err != nil {
			return nil, fmt.Errorf("notification %d: %w", i+1, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (e batchEntry) withDefaults(d batchEntry) batchEntry {
	if e.Payload == "" && e.Alert == "" {
		e.Payload, e.Alert = d.Payload, d.Alert
	}
	if e.Expiry == 0 {
		e.Expiry = d.Expiry
	}
	return e
}

func (e batchEntry) notification(now time.Time) (apns.Notification, error) {
	token, err := apns.DecodeToken(e.Token)
	if err != nil {
		return apns.Notification{}, err
	}
	if len(token) == 0 {
		return apns.Notification{}, errors.New("missing device token")
	}

	payload, err := buildPayload(e.Payload, e.Alert)
	if err != nil {
		return apns.Notification{}, err
	}

	var expiry time.Time
	if e.Expiry > 0 {
		expiry = now.Add(e.Expiry)
	}
	return apns.NewNotification(token, payload, expiry), nil
}

// buildPayload returns raw when set, otherwise a minimal alert payload.
func buildPayload(raw, alert string) ([]byte, error) {
	if raw != "" {
		if !json.Valid([]byte(raw)) {
			return nil, errors.New("payload is not valid JSON")
		}
		return []byte(raw), nil
	}
	if alert == "" {
		return nil, errors.New("either payload or alert is required")
	}
	return json.Marshal(map[string]any{"aps": map[string]any{"alert": alert}})
}
