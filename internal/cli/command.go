package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// commandWaitDelay bounds how long a canceled command may keep its output pipes open.
const commandWaitDelay = 5 * time.Second

// commandFunc runs an external command per item. The item is written to the
// command's stdin (JSON strings unquoted) and its stdout becomes the result.
type commandFunc struct {
	name     string
	args     []string
	keyField string
}

func (c *commandFunc) Run(ctx context.Context, item json.RawMessage) (json.RawMessage, error) {
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	cmd.Stdin = bytes.NewReader(stdinFor(item))
	cmd.WaitDelay = commandWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if msg := lastLine(stderr.Bytes()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", c.name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	return buildRecord(item, stdout.Bytes(), c.keyField)
}

func stdinFor(item json.RawMessage) []byte {
	var s string
	if len(item) > 0 && item[0] == '"' && json.Unmarshal(item, &s) == nil {
		return []byte(s + "\n")
	}
	return append(bytes.Clone(item), '\n')
}

func lastLine(b []byte) string {
	b = bytes.TrimSpace(b)
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	}
	return string(b)
}

// buildRecord turns a command's output into the cached record for item. An
// object output is kept and given the item's identity under keyField when it
// lacks one. Any other output is wrapped as {keyField: identity, "result": output}.
func buildRecord(item json.RawMessage, out []byte, keyField string) (json.RawMessage, error) {
	id := identity(item, keyField)
	out = bytes.TrimSpace(out)

	if len(out) > 0 && out[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(out, &obj); err == nil {
			if _, ok := obj[keyField]; !ok {
				obj[keyField] = id
			}
			return json.Marshal(obj)
		}
	}

	var result json.RawMessage
	switch {
	case len(out) == 0:
		result = json.RawMessage("null")
	case json.Valid(out):
		result = out
	default:
		b, err := json.Marshal(string(out))
		if err != nil {
			return nil, err
		}
		result = b
	}
	return json.Marshal(map[string]json.RawMessage{keyField: id, "result": result})
}

// identity is the JSON value that identifies item: its keyField when item is
// an object carrying one, the whole item otherwise.
func identity(item json.RawMessage, keyField string) json.RawMessage {
	if len(item) > 0 && item[0] == '{' {
		var obj map[string]json.RawMessage
		if json.Unmarshal(item, &obj) == nil {
			if v, ok := obj[keyField]; ok {
				return v
			}
		}
	}
	return item
}
