package protocol

import (
	"encoding/json"
	"testing"

	"github.com/arenaserver/battlearena/internal/arena"
	"github.com/arenaserver/battlearena/internal/errs"
	"github.com/arenaserver/battlearena/internal/id"
)

func TestParseRequestRegister(t *testing.T) {
	req, perr := ParseRequest([]byte(`{"type":"register","displayName":"Alice"}`))
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if req.Type != TypeRegister || req.DisplayName != "Alice" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestParseRequestMove(t *testing.T) {
	req, perr := ParseRequest([]byte(`{"type":"move","direction":"up","tag":"t1"}`))
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if req.Action.Kind != arena.ActionMove || req.Action.Direction != arena.DirUp || req.Action.Tag != "t1" {
		t.Fatalf("unexpected action: %+v", req.Action)
	}
}

func TestParseRequestMoveMissingDirection(t *testing.T) {
	_, perr := ParseRequest([]byte(`{"type":"move"}`))
	if perr == nil {
		t.Fatal("expected a validation error for a move with no direction")
	}
	if perr.Code != errs.StructValidationError {
		t.Fatalf("unexpected error code: %s", perr.Code)
	}
}

func TestParseRequestUnknownType(t *testing.T) {
	_, perr := ParseRequest([]byte(`{"type":"teleport"}`))
	if perr == nil {
		t.Fatal("expected an error for an unknown request type")
	}
	if perr.Code != errs.JSONPayloadError {
		t.Fatalf("unexpected error code: %s", perr.Code)
	}
}

func TestParseRequestMalformedFrame(t *testing.T) {
	_, perr := ParseRequest([]byte(`{not json`))
	if perr == nil {
		t.Fatal("expected an error for a malformed frame")
	}
	if perr.Code != errs.WebsocketError {
		t.Fatalf("unexpected error code: %s", perr.Code)
	}
}

func TestParseRequestDropWeapon(t *testing.T) {
	req, perr := ParseRequest([]byte(`{"type":"dropWeapon"}`))
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if req.Action.Kind != arena.ActionDropWeapon {
		t.Fatalf("unexpected action kind: %s", req.Action.Kind)
	}
}

func TestEncodeBroadcastPlayerKilled(t *testing.T) {
	pid := id.New()
	b := EncodeBroadcast(arena.PlayerKilledEvent{ID: pid})

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "playerKilled" {
		t.Fatalf("unexpected type: %v", decoded["type"])
	}
	if decoded["id"] != pid.String() {
		t.Fatalf("unexpected id: %v", decoded["id"])
	}
}

func TestEncodeBroadcastUnknownEventPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected EncodeBroadcast to panic on an unrecognized event type")
		}
	}()
	EncodeBroadcast(struct{ X int }{X: 1})
}

func TestEncodeErrorOmitsDeveloperNotesInReleaseBuilds(t *testing.T) {
	pe := errs.New(errs.CannotSendAction, "no action pending").WithNotes("internal detail")
	b := EncodeError(pe)

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["errorCode"] != float64(errs.CannotSendAction) {
		t.Fatalf("unexpected errorCode: %v", decoded["errorCode"])
	}
	if _, present := decoded["developerNotes"]; present && !errs.IncludeDeveloperNotes {
		t.Fatal("developerNotes must be omitted outside debug builds")
	}
}
