package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyPartition walks an entire partition file and checks hash-chain
// consistency: the header seeds the chain, every line's prevHash must equal
// the running pointer, and every lineHash must recompute from the canonical
// business fields. Returns nil if the chain is intact.
//
// Unlike the recovery scan, verification is strict: any malformed or
// inconsistent line is an error, because the caller is auditing rather than
// restarting.
func VerifyPartition(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read partition: %w", err)
	}

	chain := ""
	lineNo := 0
	for len(data) > 0 {
		var raw []byte
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			raw, data = data[:i], data[i+1:]
		} else {
			raw, data = data, nil
		}
		lineNo++
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return fmt.Errorf("line %d: parse: %w", lineNo, err)
		}

		if t, _ := m[keyType].(string); t == "header" {
			if lineNo != 1 {
				return fmt.Errorf("line %d: header not at start of file", lineNo)
			}
			sum := sha256.Sum256(raw)
			chain = hex.EncodeToString(sum[:])
			continue
		}
		if lineNo == 1 {
			return fmt.Errorf("line 1: missing header record")
		}

		prev, _ := m[keyPrevHash].(string)
		line, _ := m[keyLineHash].(string)
		if line == "" {
			return fmt.Errorf("line %d: missing lineHash", lineNo)
		}
		if prev != chain {
			return fmt.Errorf("line %d: chain broken: prevHash %.12s…, expected %.12s…", lineNo, prev, chain)
		}

		delete(m, keyPrevHash)
		delete(m, keyLineHash)
		rawLine, err := canonicalLine(m)
		if err != nil {
			return fmt.Errorf("line %d: recanonicalize: %w", lineNo, err)
		}
		if want := chainHash(prev, rawLine); line != want {
			return fmt.Errorf("line %d: lineHash mismatch", lineNo)
		}
		chain = line
	}
	return nil
}
