// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/statefetch/reader/pkg/log"
)

// WorkerConfig describes the command-line-less configuration a staterxd
// worker process loads at startup: which backing store to fetch from, which
// (computation, key, work token) it serves on this run, and how it should
// log and expose metrics.
type WorkerConfig struct {
	BackingStoreURL string `json:"backingStoreUrl"`
	BackingStoreJWT string `json:"backingStoreJwt,omitempty"`

	Computation string `json:"computation"`
	KeyHex      string `json:"keyHex"`
	WorkToken   int64  `json:"workToken"`

	LogLevel      string `json:"logLevel"`
	MetricsListen string `json:"metricsListen"`
}

// Keys holds the process-wide configuration, populated by Init. Callers run
// entirely from this package-level value, the same way the rest of the
// ambient stack keeps its configuration in one shared var.
var Keys = WorkerConfig{
	BackingStoreURL: "http://localhost:8080",
	LogLevel:        "info",
	MetricsListen:   ":9090",
}

// Init reads and validates flagConfigFile and decodes it over Keys: fields
// present in the file replace the defaults, absent fields keep them. A
// missing file is not an error: Keys keeps its defaults. Any other failure
// is fatal, since a worker that cannot resolve its own binding has nothing
// useful to do.
func Init(flagConfigFile string) {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("config: reading %s: %v", flagConfigFile, err)
		}
		return
	}

	if err := Validate(Schema, raw); err != nil {
		log.Fatalf("config: validating %s: %v", flagConfigFile, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		log.Fatalf("config: decoding %s: %v", flagConfigFile, err)
	}

	if Keys.Computation == "" {
		log.Fatal("config: 'computation' is required")
	}
	if Keys.KeyHex == "" {
		log.Fatal("config: 'keyHex' is required")
	}
}
