package ttsconfig

import (
	"bufio"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/rdkcentral/tts-coordinator/pkg/ttslog"
)

var lineRe = regexp.MustCompile(`^\s*([a-zA-Z0-9_-]+)\s*=\s*(\S+)`)

// Load parses the line-oriented KEY = VALUE configuration file described in
// §6.4 of the specification. Recognized keys are applied to named fields;
// every other key/value pair is retained in extras, including
// voice_for_<lang> entries consulted by Voice().
func Load(path string) (*Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := New()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		applyKV(c, m[1], m[2])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	c.ReconcileEndpoints()
	return c, nil
}

func applyKV(c *Configuration, key, value string) {
	switch key {
	case "TTSEndPoint":
		c.SetEndpoint(value)
	case "SecureTTSEndPoint":
		c.SetSecureEndpoint(value)
	case "Language":
		c.SetLanguage(value)
	case "Voice":
		c.SetVoice(value)
	case "Volume":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			c.SetVolume(int(v))
		}
	case "Rate":
		if v, err := strconv.Atoi(value); err == nil {
			c.SetRate(v)
		}
	case "ResourceAccessPolicy":
		c.SetExtra(key, value)
	default:
		c.SetExtra(key, value)
	}
}

// Policy resolves the ResourceAccessPolicy extra into the arbitration
// policy string expected by pkg/ttsmanager: "Reservation" maps to
// RESERVATION, anything else (including absence) maps to OPEN.
func (c *Configuration) Policy() string {
	if v, ok := c.Extra("ResourceAccessPolicy"); ok && v == "Reservation" {
		return "RESERVATION"
	}
	return "OPEN"
}

// Watch watches path for writes and invokes onChange with a freshly loaded
// Configuration after each one, until stop is closed. Errors reloading a
// changed file are logged and the previous Configuration is left in place.
func Watch(path string, log ttslog.Logger, onChange func(*Configuration), stop <-chan struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return err
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Warn("config reload failed", "path", path, "error", err.Error())
					continue
				}
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("config watch error", "error", err.Error())
			}
		}
	}()
	return nil
}
