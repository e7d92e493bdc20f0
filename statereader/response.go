package statereader

import "bytes"

// validateEnvelope checks the composite response against the Reader's
// binding and returns the single key-block to route, or a fatal
// *FatalFlushError.
func validateEnvelope(resp *WireResponse, binding Binding) (*KeyResponse, error) {
	if len(resp.Computations) != 1 {
		return nil, fatalf(ErrEnvelopeMismatch, "expected exactly one computation block, got %d", len(resp.Computations))
	}

	comp := resp.Computations[0]
	if comp.ComputationID != binding.Computation {
		return nil, fatalf(ErrEnvelopeMismatch, "computation id %q does not match bound computation %q", comp.ComputationID, binding.Computation)
	}

	if len(comp.Keys) != 1 {
		return nil, fatalf(ErrEnvelopeMismatch, "expected exactly one key block, got %d", len(comp.Keys))
	}

	key := comp.Keys[0]
	if !bytes.Equal(key.Key, binding.Key) {
		return nil, fatalf(ErrEnvelopeMismatch, "response key does not match bound key")
	}

	return &key, nil
}

// consumeResponse routes every item in key to its registered TagKey,
// decoding per kind and removing each consumed tag from byTag. On return,
// any TagKey left in byTag was not routed; in that case consumeResponse
// returns a non-nil error (ErrIncompleteResponse when every item was routed
// but some tags were never delivered), and the caller fails those handles
// with it.
func consumeResponse(key *KeyResponse, byTag map[string]TagKey, registry *HandleRegistry, metrics *Metrics) error {
	for _, item := range key.Values {
		tk, ok := byTag[string(item.Tag)]
		if !ok {
			return fatalf(ErrUnknownTag, "value tag %q", item.Tag)
		}
		if tk.Kind != KindValue {
			return fatalf(ErrKindMismatch, "tag %q registered as %s but returned as a value item", item.Tag, tk.Kind)
		}

		h, ok := registry.getHandle(tk)
		if !ok {
			return fatalf(ErrMissingHandle, "tag %q", item.Tag)
		}
		decoderBox, ok := registry.getDecoder(tk)
		if !ok {
			return fatalf(ErrMissingDecoder, "tag %q", item.Tag)
		}
		vdec, ok := decoderBox.(valueDecoderFunc)
		if !ok {
			return fatalf(ErrMissingDecoder, "tag %q has no value decoder", item.Tag)
		}

		present := item.Payload != nil && len(item.Payload.Data) > 0
		var data []byte
		if present {
			data = item.Payload.Data
		}

		result, derr := vdec.decodeValue(data, present)
		if derr != nil {
			h.fail(&DecodeError{Tag: tk, Err: derr})
			metrics.observeDecodeError()
		} else {
			h.resolve(result)
		}
		delete(byTag, string(item.Tag))
	}

	for _, item := range key.Lists {
		tk, ok := byTag[string(item.Tag)]
		if !ok {
			return fatalf(ErrUnknownTag, "list tag %q", item.Tag)
		}

		h, ok := registry.getHandle(tk)
		if !ok {
			return fatalf(ErrMissingHandle, "tag %q", item.Tag)
		}

		switch tk.Kind {
		case KindList:
			if err := consumeListItem(tk, item, h, registry, metrics); err != nil {
				return err
			}
		case KindWatermark:
			consumeWatermarkItem(item, h)
		default:
			return fatalf(ErrKindMismatch, "tag %q registered as %s but returned as a list item", item.Tag, tk.Kind)
		}
		delete(byTag, string(item.Tag))
	}

	if len(byTag) != 0 {
		return fatalf(ErrIncompleteResponse, "%d tag(s) were not present in the response", len(byTag))
	}
	return nil
}

func consumeListItem(tk TagKey, item ListItem, h *handle, registry *HandleRegistry, metrics *Metrics) error {
	decoderBox, ok := registry.getDecoder(tk)
	if !ok {
		return fatalf(ErrMissingDecoder, "tag %q", tk.Tag)
	}
	ldec, ok := decoderBox.(listDecoderFunc)
	if !ok {
		return fatalf(ErrMissingDecoder, "tag %q has no list element decoder", tk.Tag)
	}

	if len(item.Entries) == 0 {
		// decodeList(nil) never calls the element decoder, but still
		// produces an empty slice of the right concrete type.
		empty, _ := ldec.decodeList(nil)
		h.resolve(empty)
		registry.forgetDecoder(tk)
		return nil
	}

	entries := make([][]byte, 0, len(item.Entries))
	for _, e := range item.Entries {
		if len(e.Data) == 0 {
			continue
		}
		// Strip the single leading presence byte.
		entries = append(entries, e.Data[1:])
	}

	result, derr := ldec.decodeList(entries)
	if derr != nil {
		h.fail(&DecodeError{Tag: tk, Err: derr})
		metrics.observeDecodeError()
	} else {
		h.resolve(result)
	}
	return nil
}

// consumeWatermarkItem resolves a WATERMARK handle to the minimum of its
// entries' timestamps, converted to milliseconds, ignoring entries with
// absent/empty payload.
func consumeWatermarkItem(item ListItem, h *handle) {
	var minMs int64
	found := false
	for _, e := range item.Entries {
		if len(e.Data) == 0 {
			continue
		}
		ms := e.Timestamp / 1000
		if !found || ms < minMs {
			minMs = ms
			found = true
		}
	}
	if found {
		h.resolve(Optional[int64]{Present: true, Value: minMs})
	} else {
		h.resolve(Optional[int64]{})
	}
}
