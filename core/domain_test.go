package core

import "testing"

func TestProtocolID_NamesAndParse(t *testing.T) {
	for idx, name := range ProtocolNames() {
		id, err := ParseProtocol(name)
		if err != nil {
			t.Fatalf("parse %q: %v", name, err)
		}
		if int(id) != idx {
			t.Fatalf("expected %q to parse to %d, got %d", name, idx, id)
		}
		if id.String() != name {
			t.Fatalf("expected %d to print %q, got %q", idx, name, id.String())
		}
	}

	id, err := ParseProtocol(" 5 ")
	if err != nil || id != ProtocolERC3156 {
		t.Fatalf("expected numeric parse of erc3156, got %d %v", id, err)
	}
	id, err = ParseProtocol("7")
	if err != nil {
		t.Fatalf("expected out of range id to parse: %v", err)
	}
	if id.Known() {
		t.Fatalf("expected id 7 to be unknown")
	}
	if id.String() != "unknown(7)" {
		t.Fatalf("unexpected unknown id name %q", id.String())
	}
	if _, err := ParseProtocol("compound"); err == nil {
		t.Fatalf("expected unknown name to fail")
	}
	if _, err := ParseProtocol(""); err == nil {
		t.Fatalf("expected empty protocol to fail")
	}
}
