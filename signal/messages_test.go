package signal

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeCreateRoom(t *testing.T) {
	payload := []byte(`{
		"type": "create-room",
		"roomId": "abc123def456",
		"options": {"maxDownloads": 3, "expiryHours": 2, "password": "hunter2"}
	}`)

	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	create, ok := msg.(CreateRoom)
	if !ok {
		t.Fatalf("decoded %T, want CreateRoom", msg)
	}
	if create.RoomID != "abc123def456" {
		t.Errorf("RoomID = %q", create.RoomID)
	}
	if create.Options.MaxDownloads != 3 || create.Options.ExpiryHours != 2 || create.Options.Password != "hunter2" {
		t.Errorf("Options = %+v", create.Options)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	for _, payload := range []string{
		`{"type": "shutdown-now"}`,
		`{"type": ""}`,
		`{"roomId": "abc"}`,
	} {
		if _, err := Decode([]byte(payload)); !errors.Is(err, ErrUnknownType) {
			t.Errorf("Decode(%s) err = %v, want ErrUnknownType", payload, err)
		}
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	if _, err := Decode([]byte(`{"type": "ping"`)); err == nil {
		t.Error("expected error for truncated payload")
	}
	if _, err := Decode([]byte(`not json at all`)); err == nil {
		t.Error("expected error for non-JSON payload")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	messages := []Message{
		CreateRoom{Type: TypeCreateRoom, RoomID: "r1", Options: RoomOptions{MaxDownloads: 1}},
		RoomJoined{Type: TypeRoomJoined, RoomID: "r1", Role: RoleReceiver},
		PeerJoined{Type: TypePeerJoined, RoomID: "r1", Role: RoleHost},
		Offer{Type: TypeOffer, RoomID: "r1", SDP: "v=0..."},
		ICECandidate{Type: TypeICECandidate, RoomID: "r1", Candidate: json.RawMessage(`{"candidate":"..."}`)},
		TransferComplete{Type: TypeTransferComplete, RoomID: "r1"},
		NewError("Room not found"),
		Ping{Type: TypePing},
	}

	for _, want := range messages {
		payload, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%s): %v", want.Kind(), err)
		}
		got, err := Decode(payload)
		if err != nil {
			t.Fatalf("Decode(%s): %v", want.Kind(), err)
		}
		if got.Kind() != want.Kind() {
			t.Errorf("round trip changed kind: %s -> %s", want.Kind(), got.Kind())
		}
	}
}

func TestCandidateBodyForwardedVerbatim(t *testing.T) {
	raw := `{"candidate":"candidate:1 1 udp 2122260223 192.168.1.7 51000 typ host","sdpMid":"0","sdpMLineIndex":0}`
	payload := []byte(`{"type":"ice-candidate","roomId":"r1","candidate":` + raw + `}`)

	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	candidate := msg.(ICECandidate)

	encoded, err := Encode(candidate)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var round ICECandidate
	if err := json.Unmarshal(encoded, &round); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(round.Candidate) != raw {
		t.Errorf("candidate body = %s, want %s", round.Candidate, raw)
	}
}

func TestRoomOptionsPasswordOmittedWhenEmpty(t *testing.T) {
	payload, err := Encode(CreateRoom{Type: TypeCreateRoom, RoomID: "r1"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(payload, &generic); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	options := generic["options"].(map[string]any)
	if _, present := options["password"]; present {
		t.Error("empty password should be omitted from the wire")
	}
}
