package protocol

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestDocumentUpdateSnapshotRequest(t *testing.T) {
	req := DocumentUpdate{SessionID: "s1", DocName: "main.js"}
	if !req.IsSnapshotRequest() {
		t.Error("update without content must be a snapshot request")
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	// The content key must be absent, not null, so relays that check for
	// presence treat it as a read.
	var raw map[string]json.RawMessage
	json.Unmarshal(data, &raw)
	if _, ok := raw["content"]; ok {
		t.Errorf("snapshot request serialized a content field: %s", data)
	}

	content := ""
	push := DocumentUpdate{SessionID: "s1", DocName: "main.js", Content: &content}
	if push.IsSnapshotRequest() {
		t.Error("an empty-string push is still a write, not a snapshot request")
	}
}

// Any payload survives the envelope encode/decode round trip with its event
// name and bytes intact.
func TestEnvelopeRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("chat payloads preserve data integrity", prop.ForAll(
		func(text, user string) bool {
			data, err := Encode(EventChatMessage, ChatMessage{
				SessionID: "s1",
				Message:   text,
				UserID:    user,
				UserName:  user,
			})
			if err != nil {
				return false
			}

			var env Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				return false
			}
			if env.Event != EventChatMessage {
				return false
			}

			var decoded ChatMessage
			if err := json.Unmarshal(env.Data, &decoded); err != nil {
				return false
			}
			return decoded.Message == text && decoded.UserID == user
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
