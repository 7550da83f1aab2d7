package cache

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/utkarsh5026/pararun/internal/keys"
)

func TestScanJSONL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKeys []keys.Key
		wantBad  []int
		keyField string
	}{
		{
			name:     "empty input",
			input:    "",
			keyField: "id",
		},
		{
			name:     "no trailing newline",
			input:    `{"id":1}` + "\n" + `{"id":2}`,
			wantKeys: []keys.Key{"1", "2"},
			keyField: "id",
		},
		{
			name:     "blank lines ignored",
			input:    "\n\n" + `{"id":"a"}` + "\n   \n",
			wantKeys: []keys.Key{"a"},
			keyField: "id",
		},
		{
			name:     "malformed lines reported",
			input:    `{"id":1}` + "\n" + `nope` + "\n" + `{"id":3}` + "\n" + `{"id":`,
			wantKeys: []keys.Key{"1", "3"},
			wantBad:  []int{2, 4},
			keyField: "id",
		},
		{
			name:     "custom key field",
			input:    `{"filename":"a.txt","n":1}` + "\n" + `{"n":2}`,
			wantKeys: []keys.Key{"a.txt", `{"n":2}`},
			keyField: "filename",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotKeys []keys.Key
			var gotBad []int

			err := ScanJSONL(context.Background(), strings.NewReader(tt.input), tt.keyField,
				func(lineNo int, key keys.Key, err error) {
					if err != nil {
						gotBad = append(gotBad, lineNo)
						return
					}
					gotKeys = append(gotKeys, key)
				})
			if err != nil {
				t.Fatalf("ScanJSONL: %v", err)
			}

			if strings.Join(toStrings(gotKeys), ",") != strings.Join(toStrings(tt.wantKeys), ",") {
				t.Errorf("keys = %v, want %v", gotKeys, tt.wantKeys)
			}
			if len(gotBad) != len(tt.wantBad) {
				t.Fatalf("malformed lines = %v, want %v", gotBad, tt.wantBad)
			}
			for i := range gotBad {
				if gotBad[i] != tt.wantBad[i] {
					t.Errorf("malformed lines = %v, want %v", gotBad, tt.wantBad)
				}
			}
		})
	}
}

func TestScanJSONL_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ScanJSONL(ctx, strings.NewReader(`{"id":1}`), "id", func(int, keys.Key, error) {
		t.Error("callback should not run after cancellation")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestInspect(t *testing.T) {
	input := strings.Join([]string{
		`{"id":1}`,
		`{"id":2}`,
		`{"id":1}`,
		`garbage`,
		`{"id":3}`,
		`{"id":2}`,
	}, "\n")

	rep, err := Inspect(context.Background(), strings.NewReader(input), "id")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}

	if rep.Lines != 6 {
		t.Errorf("Lines = %d, want 6", rep.Lines)
	}
	if rep.Records != 5 {
		t.Errorf("Records = %d, want 5", rep.Records)
	}
	if rep.Distinct != 3 {
		t.Errorf("Distinct = %d, want 3", rep.Distinct)
	}
	if len(rep.Malformed) != 1 || rep.Malformed[0] != 4 {
		t.Errorf("Malformed = %v, want [4]", rep.Malformed)
	}
	if len(rep.Duplicates) != 2 || rep.Duplicates[0] != "1" || rep.Duplicates[1] != "2" {
		t.Errorf("Duplicates = %v, want [1 2]", rep.Duplicates)
	}
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}

	known, err := c.Load(context.Background())
	if err != nil || known.Len() != 0 {
		t.Errorf("Load = %v, %v", known, err)
	}
	if err := c.Append(map[string]any{"id": 1}); err != nil {
		t.Error(err)
	}
	if known.Len() != 0 {
		t.Error("Nop must not remember keys")
	}
	if err := c.Flush(); err != nil {
		t.Error(err)
	}
	if err := c.Close(); err != nil {
		t.Error(err)
	}
}

func toStrings(ks []keys.Key) []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = string(k)
	}
	return out
}
