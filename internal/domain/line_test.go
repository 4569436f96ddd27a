package domain

import (
	"encoding/json"
	"testing"
)

func TestParseLinesDropsBadRows(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`{"accountDocId":"DOC-1","amount":100}`),
		json.RawMessage(`{"accountDocId":"DOC-2","amount":"not-a-number"}`),
		json.RawMessage(`{"accountDocId":"DOC-3","invoiceDate":"yesterday"}`),
		json.RawMessage(`{"amount":50}`),
	}

	lines, dropped := ParseLines(raw)

	if len(lines) != 1 || lines[0].AccountDocID != "DOC-1" {
		t.Fatalf("lines = %+v, want DOC-1 only", lines)
	}
	if len(dropped) != 3 {
		t.Fatalf("dropped = %d errors, want 3", len(dropped))
	}
	if KindOf(dropped[0]) != KindData {
		t.Errorf("bad amount kind = %s, want %s", KindOf(dropped[0]), KindData)
	}
	if KindOf(dropped[1]) != KindData {
		t.Errorf("bad date kind = %s, want %s", KindOf(dropped[1]), KindData)
	}
	if KindOf(dropped[2]) != KindSchema {
		t.Errorf("missing doc id kind = %s, want %s", KindOf(dropped[2]), KindSchema)
	}
}

func TestParseLinesEmptyInput(t *testing.T) {
	lines, dropped := ParseLines(nil)
	if len(lines) != 0 || len(dropped) != 0 {
		t.Errorf("ParseLines(nil) = %v, %v; want empty", lines, dropped)
	}
}
