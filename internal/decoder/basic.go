package decoder

import (
	"encoding/json"
	"fmt"

	"github.com/gateway-fm/archive-node/internal/chain"
)

// signedBit is set on an extrinsic's leading version byte when it
// carries a signature, the standard Substrate extrinsic encoding this
// decoder targets (metadata only changes which calls are dispatchable,
// not this envelope bit).
const signedBit = 0x80

// BasicDecoder decodes the common envelope shared by every metadata
// version: a leading version byte (high bit = signed), an optional
// (account, signature) pair when signed, and a two-byte
// (pallet-index, call-index) selector resolved against metadata. It is
// the default CallDecoder wired up by cmd/archivenode; a richer
// implementation backed by the raw type-definition database named in
// spec.md section 1 can be swapped in without touching Registry.
type BasicDecoder struct{}

const (
	accountLen   = 32
	signatureLen = 64
)

// Decode implements CallDecoder.
func (BasicDecoder) Decode(metadata []byte, payload []byte) (chain.DecodedCall, bool, []byte, []byte, error) {
	if len(payload) < 1 {
		return chain.DecodedCall{}, false, nil, nil, fmt.Errorf("empty payload")
	}
	signed := payload[0]&signedBit != 0
	off := 1

	var account, signature []byte
	if signed {
		if len(payload) < off+accountLen+signatureLen {
			return chain.DecodedCall{}, false, nil, nil, fmt.Errorf("truncated signed envelope")
		}
		account = payload[off : off+accountLen]
		off += accountLen
		signature = payload[off : off+signatureLen]
		off += signatureLen
	}

	if len(payload) < off+2 {
		return chain.DecodedCall{}, false, nil, nil, fmt.Errorf("truncated call selector")
	}
	palletIdx, callIdx := payload[off], payload[off+1]
	off += 2

	pallet, method, err := resolveCall(metadata, palletIdx, callIdx)
	if err != nil {
		return chain.DecodedCall{}, false, nil, nil, err
	}

	call := chain.DecodedCall{Pallet: pallet, Method: method, Args: payload[off:]}
	return call, signed, account, signature, nil
}

// metadataIndex is the decoded shape of a registered metadata blob:
// each pallet lists its callable methods in declaration order, so a
// (palletIdx, callIdx) pair resolves to names. Encoded as JSON by the
// node; this decoder is deliberately tolerant of metadata it doesn't
// need beyond that list, since a runtime's metadata carries far more
// (types, storage, events) than this archiver uses.
type metadataIndex struct {
	Pallets []struct {
		Name  string   `json:"name"`
		Calls []string `json:"calls"`
	} `json:"pallets"`
}

func resolveCall(metadata []byte, palletIdx, callIdx byte) (string, string, error) {
	var idx metadataIndex
	if err := json.Unmarshal(metadata, &idx); err != nil {
		return "", "", fmt.Errorf("parsing metadata: %w", err)
	}
	if int(palletIdx) >= len(idx.Pallets) {
		return "", "", fmt.Errorf("pallet index %d out of range", palletIdx)
	}
	p := idx.Pallets[palletIdx]
	if int(callIdx) >= len(p.Calls) {
		return "", "", fmt.Errorf("call index %d out of range for pallet %s", callIdx, p.Name)
	}
	return p.Name, p.Calls[callIdx], nil
}
