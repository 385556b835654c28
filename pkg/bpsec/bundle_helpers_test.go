// SPDX-FileCopyrightText: 2022 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpsec

import (
	"os"
	"testing"

	"github.com/dtn7/dtn7-bpsec/pkg/bpv7"
)

// buildTestBundle returns a minimal single-payload-block bundle from src to
// dst, both "ipn" EIDs, ready for a security block to be attached.
func buildTestBundle(t *testing.T, src, dst EID, payload []byte) bpv7.Bundle {
	t.Helper()

	primary := bpv7.NewPrimaryBlock(
		0,
		dst.ToEndpoint(),
		src.ToEndpoint(),
		bpv7.DtnNone(),
		bpv7.NewCreationTimestamp(bpv7.DtnTimeNow(), 0),
		uint64(60*60*1000),
	)

	payloadBlock := bpv7.NewCanonicalBlock(1, 0, bpv7.NewPayloadBlock(payload))

	b, err := bpv7.NewBundle(primary, []bpv7.CanonicalBlock{payloadBlock})
	if err != nil {
		t.Fatalf("NewBundle failed: %v", err)
	}
	return b
}

func writeKeyFile(t *testing.T, length int) string {
	t.Helper()

	f, err := os.CreateTemp("", "bpsec-key")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	defer f.Close()

	key := make([]byte, length)
	for i := range key {
		key[i] = byte(i + 1)
	}
	if _, err := f.Write(key); err != nil {
		t.Fatalf("writing key file failed: %v", err)
	}

	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}
