// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate checks instance against schema (a JSON Schema document given as a
// string), returning an error instead of calling Fatal so Init can decide
// what to do with a bad config.
func Validate(schema string, instance json.RawMessage) error {
	sch, err := jsonschema.CompileString("worker-config.schema.json", schema)
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("parsing instance: %w", err)
	}

	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("validating instance: %w", err)
	}
	return nil
}
